package application

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/client"
)

type ApplicationSuite struct {
	suite.Suite

	app    *Application
	cancel context.CancelFunc
	done   chan error
}

func (s *ApplicationSuite) SetupSuite() {
	cfg, v, err := LoadConfig(nil)
	s.Require().NoError(err)
	cfg.Relay.Listen = "127.0.0.1:0"
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.HTTP.EnablePprof = true
	cfg.Log.Stdout = false

	s.app = New(cfg, v)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- s.app.Run(ctx)
	}()

	select {
	case <-s.app.Ready():
	case err := <-s.done:
		s.FailNow("application stopped early", "%v", err)
	case <-time.After(5 * time.Second):
		s.FailNow("application not ready")
	}
}

func (s *ApplicationSuite) TearDownSuite() {
	s.cancel()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("application did not stop")
	}
}

func (s *ApplicationSuite) get(path string) (int, string) {
	resp, err := http.Get("http://" + s.app.HTTPAddr().String() + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, string(body)
}

func (s *ApplicationSuite) TestSessionOverWebsocket() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := client.Config{
		URL:      "ws://" + s.app.Addr().String() + "/",
		AppName:  "app",
		Username: "alice",
	}
	alice, err := client.Create(ctx, cfg, client.Handlers{})
	s.Require().NoError(err)
	defer alice.Close()
	s.Len(alice.ID(), 6)

	cfg.Username = "bob"
	bob, err := client.Join(ctx, cfg, alice.ID(), client.Handlers{
		OnRequest: func(_ context.Context, from string, _ json.RawMessage) any {
			return "hi " + from
		},
	})
	s.Require().NoError(err)
	defer bob.Close()

	reply, err := alice.Ask(ctx, "bob", "ping")
	s.Require().NoError(err)
	s.JSONEq(`"hi alice"`, string(reply))

	s.Equal(1, s.app.Registry().SessionCount("app"))
}

func (s *ApplicationSuite) TestHealth() {
	code, body := s.get("/healthz")
	s.Equal(http.StatusOK, code)

	var status healthStatus
	s.Require().NoError(json.Unmarshal([]byte(body), &status))
	s.Equal("ok", status.Status)
}

func (s *ApplicationSuite) TestMetrics() {
	code, body := s.get("/metrics")
	s.Equal(http.StatusOK, code)
	s.Contains(body, "go_goroutines")
	s.Contains(body, "relay_connection_active")
}

func (s *ApplicationSuite) TestPprof() {
	code, _ := s.get("/debug/pprof/cmdline")
	s.Equal(http.StatusOK, code)
}

func TestApplication(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}
