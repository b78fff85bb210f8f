package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, "--tls-key"},
		{"port zero", func(c *Config) { c.port = 0 }, "invalid port"},
		{"unknown store", func(c *Config) { c.store = "redis" }, "invalid store"},
		{"sqlite without path", func(c *Config) { c.store = "sqlite"; c.sqlitePath = "" }, "--sqlite-path"},
		{"postgres without url", func(c *Config) { c.store = "postgres" }, "--postgres-url"},
		{"tiny answer window", func(c *Config) { c.answerWindow = time.Millisecond }, "answer window"},
		{"no points", func(c *Config) { c.pointsPerQuestion = 0 }, "points per question"},
		{"no rounds", func(c *Config) { c.totalRounds = 0 }, "total rounds"},
		{"no code attempts", func(c *Config) { c.codeAttempts = 0 }, "code attempts"},
		{"no outbox", func(c *Config) { c.outboxSize = 0 }, "outbox size"},
		{"no rate", func(c *Config) { c.clientRate = 0 }, "--client-rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("SHABABSHUB_PORT", "9090")
	t.Setenv("SHABABSHUB_ANSWER_WINDOW", "45s")
	t.Setenv("SHABABSHUB_STORE", "sqlite")

	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, 9090, cfg.port)
	assert.Equal(t, 45*time.Second, cfg.answerWindow)
	assert.Equal(t, "sqlite", cfg.store)
	assert.Equal(t, "shababshub.db", cfg.sqlitePath)
	assert.Equal(t, 10, cfg.totalRounds)
	assert.NoError(t, cfg.validate())
}

func TestConfigScheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}
