package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/config"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/discovery"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an explicit config path that does not exist.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config", err)
	}
}

func TestRun_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
site:
  id: test-site
mqtt:
  broker:
    host: ""
    port: 1883
    client_id: test
discovery:
  enabled: false
`)
	err := run(context.Background(), options{configPath: path})
	if err == nil {
		t.Fatal("run() should fail without a broker host")
	}
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("error = %v, want ConfigurationError", err)
	}
}

func TestLoadConfig_EnvironmentPath(t *testing.T) {
	path := writeConfig(t, "site:\n  id: from-env\n")
	t.Setenv("LIGHTLINK_CONFIG", path)

	cfg, source, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != path || cfg.Site.ID != "from-env" {
		t.Errorf("source = %q, site = %q", source, cfg.Site.ID)
	}
}

func TestLoadConfig_MissingDefaultUsesBuiltIns(t *testing.T) {
	t.Setenv("LIGHTLINK_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, source, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != "defaults" {
		t.Errorf("source = %q, want defaults", source)
	}
	if cfg.MQTT.Broker.ClientID != "lightlink-core" {
		t.Errorf("client id = %q", cfg.MQTT.Broker.ClientID)
	}
}

type fakeFinder struct {
	broker discovery.Broker
	err    error
}

func (f fakeFinder) First(context.Context) (discovery.Broker, error) {
	return f.broker, f.err
}

func TestDiscoverBroker(t *testing.T) {
	broker := config.MQTTBrokerConfig{Port: 1883}
	finder := fakeFinder{broker: discovery.Broker{
		Instance: "hall",
		Host:     "hall.local.",
		Port:     8883,
		Addrs:    []string{"fe80::1", "192.168.1.20"},
	}}

	if err := discoverBroker(context.Background(), finder, &broker, quietLogger()); err != nil {
		t.Fatalf("discoverBroker: %v", err)
	}
	if broker.Host != "192.168.1.20" || broker.Port != 8883 {
		t.Errorf("broker = %s:%d, want 192.168.1.20:8883", broker.Host, broker.Port)
	}

	err := discoverBroker(context.Background(), fakeFinder{err: discovery.ErrNoBrokers}, &broker, quietLogger())
	if !errors.Is(err, discovery.ErrNoBrokers) {
		t.Errorf("error = %v, want ErrNoBrokers", err)
	}
}

type countingConnector struct{ n atomic.Int32 }

func (c *countingConnector) Connect() { c.n.Add(1) }

func TestConnectAfter(t *testing.T) {
	c := &countingConnector{}
	if err := connectAfter(context.Background(), c, 0, quietLogger()); err != nil {
		t.Fatalf("connectAfter: %v", err)
	}
	if c.n.Load() != 1 {
		t.Errorf("connects = %d, want 1", c.n.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := connectAfter(ctx, c, time.Hour, quietLogger()); err != nil {
		t.Fatalf("connectAfter: %v", err)
	}
	if c.n.Load() != 1 {
		t.Error("cancelled context must skip the connect")
	}
}

// TestRun_EndToEnd starts the daemon against an embedded broker, checks the
// API, and verifies the retained offline status after shutdown.
func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	brokerPort := freePort(t)
	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "main-test",
		Address: fmt.Sprintf("127.0.0.1:%d", brokerPort),
	})); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	go server.Serve() //nolint:errcheck // Closed in cleanup
	t.Cleanup(func() { _ = server.Close() })

	apiPort := freePort(t)
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
mqtt:
  broker:
    host: 127.0.0.1
    port: %d
    client_id: lightlink-main-test
  session:
    keepalive: 30
    connack_timeout: 5s
logging:
  level: error
  format: text
  output: stderr
journal:
  enabled: true
  path: %s
api:
  enabled: true
  host: 127.0.0.1
  port: %d
`, brokerPort, filepath.Join(dir, "journal.db"), apiPort))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path}) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", apiPort)
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon never reported a connected client")
		}
		if mqttState(healthURL) == "connected" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	// The broker may still be processing the final PUBLISH.
	var payload string
	for end := time.Now().Add(2 * time.Second); time.Now().Before(end); time.Sleep(20 * time.Millisecond) {
		if retained := server.Topics.Messages("client/status"); len(retained) == 1 {
			payload = string(retained[0].Payload)
			if strings.Contains(payload, `"offline"`) {
				return
			}
		}
	}
	t.Errorf("retained client/status = %q, want offline", payload)
}

func mqttState(url string) string {
	resp, err := http.Get(url) //nolint:gosec,noctx // test URL
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var body struct {
		MQTT string `json:"mqtt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.MQTT
}
