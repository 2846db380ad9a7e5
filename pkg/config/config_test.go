package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCfg struct {
	Name  string `mapstructure:"name"`
	Addr  string `mapstructure:"addr"`
	Kafka struct {
		ClientID string   `mapstructure:"client_id"`
		Brokers  []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadAndWatch_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cfg-test.yaml", `
name: stream
addr: ":8080"
kafka:
  client_id: from-file
  brokers: ["a:9092", "b:9092"]
`)
	t.Setenv("CFG_TEST_KAFKA_CLIENT_ID", "from-env")

	var cfg testCfg
	v, err := LoadAndWatch("cfg-test", &cfg, WithPaths(dir), WithEnvFiles(), NoWatch())
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "stream", cfg.Name)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "from-env", cfg.Kafka.ClientID)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadAndWatch_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()

	var cfg testCfg
	_, err := LoadAndWatch("missing-svc", &cfg,
		WithPaths(dir),
		WithEnvFiles(),
		WithDefaults(map[string]any{"name": "fallback", "addr": ":9000"}),
		NoWatch(),
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.Name)
	assert.Equal(t, ":9000", cfg.Addr)
}

func TestLoadAndWatch_MissingFileWithoutDefaults(t *testing.T) {
	var cfg testCfg
	_, err := LoadAndWatch("missing-svc", &cfg, WithPaths(t.TempDir()), WithEnvFiles(), NoWatch())
	assert.Error(t, err)
}

func TestLoadAndWatch_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dotenv-svc.yaml", "name: x\nkafka:\n  client_id: file\n")
	writeFile(t, dir, ".env", "DOTENV_SVC_KAFKA_CLIENT_ID=dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_SVC_KAFKA_CLIENT_ID") })

	var cfg testCfg
	_, err := LoadAndWatch("dotenv-svc", &cfg,
		WithPaths(dir),
		WithEnvFiles(filepath.Join(dir, ".env"), filepath.Join(dir, "nope.env")),
		NoWatch(),
	)
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.Kafka.ClientID)
}

func TestLoadAndWatch_EnvAliases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alias-svc.yaml", "name: x\n")
	t.Setenv("LEGACY_CLIENT_ID", "legacy")

	var cfg testCfg
	_, err := LoadAndWatch("alias-svc", &cfg,
		WithPaths(dir),
		WithEnvFiles(),
		WithEnvAliases(map[string][]string{"kafka.client_id": {"LEGACY_CLIENT_ID"}}),
		NoWatch(),
	)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Kafka.ClientID)
}
