package application

import (
	"io/fs"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	zlog "github.com/lk2023060901/session-relay-go/pkg/log"
	zviper "github.com/lk2023060901/session-relay-go/pkg/util/viper"
)

const (
	// EnvPrefix is the prefix of every environment variable read by the relay.
	EnvPrefix = "RELAY"
	// EnvConfigFile names the config file when --config is not given.
	EnvConfigFile = "RELAY_CONFIG_FILE"
)

// Config is the full runtime configuration of the relay.
type Config struct {
	Relay   RelayConfig            `mapstructure:"relay"`
	HTTP    HTTPConfig             `mapstructure:"http"`
	Log     zlog.Config            `mapstructure:"log"`
	Logging map[string]zlog.Config `mapstructure:"logging" validate:"dive"`
}

// RelayConfig configures the websocket endpoint and the session core.
type RelayConfig struct {
	Listen            string        `mapstructure:"listen" validate:"required"`
	Path              string        `mapstructure:"path" validate:"required,startswith=/"`
	ReadLimit         int64         `mapstructure:"readLimit" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout" validate:"gt=0"`
	PongWait          time.Duration `mapstructure:"pongWait" validate:"gt=0"`
	PingPeriod        time.Duration `mapstructure:"pingPeriod" validate:"gte=0,ltfield=PongWait"`
	SendQueueSize     int           `mapstructure:"sendQueueSize" validate:"gt=0"`
	SendTimeout       time.Duration `mapstructure:"sendTimeout" validate:"gt=0"`
	FanoutPoolSize    int           `mapstructure:"fanoutPoolSize" validate:"gt=0"`
	RateLimit         float64       `mapstructure:"rateLimit" validate:"gte=0"`
	RateBurst         int           `mapstructure:"rateBurst" validate:"gte=0"`
	EnableCompression bool          `mapstructure:"enableCompression"`
	ListenAttempts    uint          `mapstructure:"listenAttempts" validate:"gt=0"`
}

// HTTPConfig configures the operational HTTP routes.
// When Listen is empty the routes are mounted on the websocket listener.
type HTTPConfig struct {
	Listen      string `mapstructure:"listen"`
	MetricsPath string `mapstructure:"metricsPath" validate:"omitempty,startswith=/"`
	HealthPath  string `mapstructure:"healthPath" validate:"omitempty,startswith=/"`
	EnablePprof bool   `mapstructure:"enablePprof"`
}

var defaults = map[string]any{
	"relay.listen":            ":8765",
	"relay.path":              "/",
	"relay.readLimit":         1 << 20,
	"relay.writeTimeout":      "10s",
	"relay.pongWait":          "60s",
	"relay.pingPeriod":        "54s",
	"relay.sendQueueSize":     256,
	"relay.sendTimeout":       "5s",
	"relay.fanoutPoolSize":    1024,
	"relay.rateLimit":         0,
	"relay.rateBurst":         0,
	"relay.enableCompression": false,
	"relay.listenAttempts":    5,

	"http.listen":      "",
	"http.metricsPath": "/metrics",
	"http.healthPath":  "/healthz",
	"http.enablePprof": false,

	"log.level":            "info",
	"log.format":           zlog.FormatConsole,
	"log.stdout":           true,
	"log.disableTimestamp": false,
	"log.file.rootPath":    "",
	"log.file.filename":    "",
	"log.file.maxSize":     300,
	"log.file.maxDays":     0,
	"log.file.maxBackups":  0,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"listen":         "relay.listen",
	"path":           "relay.path",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"metrics-listen": "http.listen",
}

var validate = validator.New()

// LoadConfig resolves the configuration of the relay.
//
// Priority, highest first:
//  1. command-line flags (only those explicitly set);
//  2. RELAY_* environment variables, including a .env file in the working directory;
//  3. the config file named by --config or RELAY_CONFIG_FILE;
//  4. built-in defaults.
//
// The returned viper wrapper is kept for hot reload.
func LoadConfig(flags *pflag.FlagSet) (*Config, *zviper.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, errors.Wrap(err, "load .env")
	}

	v := zviper.New()
	v.SetDefaults(defaults)
	v.AutomaticEnv(EnvPrefix)

	configPath := os.Getenv(EnvConfigFile)
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			configPath = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
	}
	if configPath != "" {
		if err := v.LoadFile(configPath); err != nil {
			return nil, nil, errors.Wrapf(err, "load config file %q", configPath)
		}
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decodeConfig(v *zviper.Config) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
