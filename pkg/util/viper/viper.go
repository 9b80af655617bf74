package viper

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的配置加载接口。
//
// 说明：
//   - 配置来源优先级（高到低）：命令行参数 > 环境变量 > 配置文件 > 默认值；
//   - 环境变量名为 "<前缀>_<key>"，key 中的 "." 替换为 "_" 并转为大写，
//     例如前缀 RELAY、key relay.sendTimeout 对应 RELAY_RELAY_SENDTIMEOUT。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
func New() *Config {
	return &Config{
		v: spfviper.New(),
	}
}

// SetDefault 设置单个 key 的默认值。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// SetDefaults 批量设置默认值。
func (c *Config) SetDefaults(defaults map[string]any) {
	for k, v := range defaults {
		c.v.SetDefault(k, v)
	}
}

// AutomaticEnv 开启环境变量覆盖。
func (c *Config) AutomaticEnv(prefix string) {
	c.v.SetEnvPrefix(prefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
}

// BindPFlag 将命令行参数绑定到指定 key。
func (c *Config) BindPFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	return c.v.BindPFlag(key, flag)
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// WatchConfig 监听已加载的配置文件，文件变化时回调 onChange。
// 只有在 LoadFile 成功之后调用才有意义。
func (c *Config) WatchConfig(onChange func(c *Config)) {
	c.v.OnConfigChange(func(fsnotify.Event) {
		onChange(c)
	})
	c.v.WatchConfig()
}

// ConfigFileUsed 返回已加载的配置文件路径，未加载时为空。
func (c *Config) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

// GetString 返回 key 对应的字符串值。
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	return c.v.Unmarshal(dst)
}
