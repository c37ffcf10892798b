package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{"JWT_SECRET": "0123456789abcdef"}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "travel.db", cfg.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.CheckBalanceOnSubmit)
	assert.False(t, cfg.SeedDemo)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	vars := map[string]string{
		"PORT":                    "9000",
		"DB_PATH":                 "/tmp/env.db",
		"JWT_SECRET":              "0123456789abcdef",
		"TOKEN_TTL":               "2h",
		"STORE_TIMEOUT":           "750ms",
		"ALLOWED_ORIGINS":         "https://a.example, ,https://b.example",
		"SEED_DEMO":               "true",
		"CHECK_BALANCE_ON_SUBMIT": "false",
		"DEFAULT_LEAVES":          "20",
	}
	cfg, err := load([]string{"-port", "9100", "-db", ":memory:"}, env(vars))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port, "flags win over env")
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.SeedDemo)
	assert.False(t, cfg.CheckBalanceOnSubmit)
	assert.Equal(t, 20, cfg.DefaultLeaves)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"bad port", map[string]string{"JWT_SECRET": "0123456789abcdef", "PORT": "eighty"}, "PORT"},
		{"port range", map[string]string{"JWT_SECRET": "0123456789abcdef", "PORT": "70000"}, "out of range"},
		{"bad duration", map[string]string{"JWT_SECRET": "0123456789abcdef", "STORE_TIMEOUT": "soon"}, "STORE_TIMEOUT"},
		{"negative ttl", map[string]string{"JWT_SECRET": "0123456789abcdef", "TOKEN_TTL": "-1h"}, "TOKEN_TTL"},
		{"bad bool", map[string]string{"JWT_SECRET": "0123456789abcdef", "SEED_DEMO": "maybe"}, "SEED_DEMO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(nil, env(tt.vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := load([]string{"-nope"}, env(map[string]string{"JWT_SECRET": "0123456789abcdef"}))
	assert.Error(t, err)
}
