package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"isolend/crypto"
)

var callerAddr = crypto.AddressFromSeed(crypto.AccountPrefix, "operator").String()

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  tokens:
    - token: " token-one "
      caller: "`+callerAddr+`"
    - token: " "
      caller: ""
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if !cfg.TLS.AllowInsecure {
		t.Fatalf("expected allow_insecure to propagate")
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].Token != "token-one" {
		t.Fatalf("expected one trimmed token, got %+v", cfg.Auth.Tokens)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.ShutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("unexpected shutdown timeout %s", cfg.ShutdownTimeout)
	}
	if cfg.RateLimit.Burst != 60 {
		t.Fatalf("expected default burst, got %d", cfg.RateLimit.Burst)
	}
}

func TestLoadConfigRequiresTokens(t *testing.T) {
	path := writeConfig(t, `
listen: ":8547"
tls:
  cert: "server.crt"
  key: "server.key"
auth: {}
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error when no tokens are configured")
	}
}

func TestLoadConfigValidatesCaller(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  tokens:
    - token: abc
      caller: not-an-address
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed caller")
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
tls:
  cert: "server.crt"
auth:
  tokens:
    - token: abc
      caller: "`+callerAddr+`"
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
bogus: 1
auth:
  tokens:
    - token: abc
      caller: "`+callerAddr+`"
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":6000"
data_dir: "/var/lib/lendingd"
tls:
  allow_insecure: true
auth:
  tokens:
    - token: abc
      caller: "`+callerAddr+`"
`)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("LENDINGD_JOURNAL_DSN=file:journal.db\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LENDINGD_LISTEN", ":7000")
	t.Setenv("LENDINGD_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("LENDINGD_LOG_LEVEL", "debug")
	t.Cleanup(func() { os.Unsetenv("LENDINGD_JOURNAL_DSN") })

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7000" {
		t.Fatalf("expected env listen override, got %q", cfg.ListenAddress)
	}
	if cfg.DataDir != "/var/lib/lendingd" {
		t.Fatalf("expected file data dir to survive, got %q", cfg.DataDir)
	}
	if cfg.JournalDSN != "file:journal.db" {
		t.Fatalf("expected dsn from env file, got %q", cfg.JournalDSN)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout %s", cfg.ShutdownTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadConfigMissingEnvFileIgnored(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  tokens:
    - token: abc
      caller: "`+callerAddr+`"
`)
	if _, err := Load(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored: %v", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"), "")
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if len(cfg.Auth.Tokens) != 2 {
		t.Fatalf("expected two sample tokens, got %d", len(cfg.Auth.Tokens))
	}
	if cfg.TLS.Enabled() {
		t.Fatalf("sample config should run plaintext on loopback")
	}
}

func TestLoadConfigTelemetry(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  tokens:
    - token: abc
      caller: "`+callerAddr+`"
telemetry:
  endpoint: " collector:4318 "
  metrics: false
  headers:
    x-tenant: ledger
`)
	for _, key := range []string{"LENDINGD_TELEMETRY_OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", "LENDINGD_TELEMETRY_DISABLED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer abc,x-tenant=ops")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	exporter := cfg.Telemetry.Exporter("lendingd", "test")
	if exporter.Endpoint != "collector:4318" {
		t.Fatalf("expected endpoint from file, got %q", exporter.Endpoint)
	}
	if exporter.Insecure {
		t.Fatalf("expected OTEL_EXPORTER_OTLP_INSECURE to apply")
	}
	if exporter.Headers["authorization"] != "Bearer abc" || exporter.Headers["x-tenant"] != "ops" {
		t.Fatalf("expected headers from environment, got %v", exporter.Headers)
	}
	if !exporter.Traces || exporter.Metrics {
		t.Fatalf("unexpected signals traces=%v metrics=%v", exporter.Traces, exporter.Metrics)
	}

	t.Setenv("LENDINGD_TELEMETRY_DISABLED", "true")
	cfg, err = Load(path, "")
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if exporter := cfg.Telemetry.Exporter("lendingd", "test"); exporter.Traces || exporter.Metrics {
		t.Fatalf("expected disabled telemetry to turn off both signals")
	}
}
