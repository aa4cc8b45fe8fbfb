package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "MODEL_DIR", "")
	setEnv(t, "PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultModelDir, cfg.ModelDir)
	assert.Equal(t, DefaultPrimaryModel, cfg.PrimaryModel)
	assert.Equal(t, DefaultSecondaryModel, cfg.SecondaryModel)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MODEL_DIR", "/opt/models")
	setEnv(t, "PRIMARY_MODEL", "xgb_v3")
	setEnv(t, "SECONDARY_MODEL", "rf_v3")
	setEnv(t, "ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/opt/models", cfg.ModelDir)
	assert.Equal(t, "xgb_v3", cfg.PrimaryModel)
	assert.Equal(t, "rf_v3", cfg.SecondaryModel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_SameModelNames(t *testing.T) {
	setEnv(t, "PRIMARY_MODEL", "gbt")
	setEnv(t, "SECONDARY_MODEL", "gbt")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "different artifacts")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		ModelDir:       "models",
		PrimaryModel:   "gbt",
		SecondaryModel: "forest",
		RateLimitRPM:   120,
		RateLimitBurst: 20,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: ""},
		{name: "missing model dir", mutate: func(c *Config) { c.ModelDir = "" }, wantErr: "MODEL_DIR is required"},
		{name: "missing primary", mutate: func(c *Config) { c.PrimaryModel = "" }, wantErr: "PRIMARY_MODEL and SECONDARY_MODEL are required"},
		{name: "same artifact names", mutate: func(c *Config) { c.SecondaryModel = c.PrimaryModel }, wantErr: "different artifacts"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimitRPM = 0 }, wantErr: "RATE_LIMIT_RPM"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimitBurst = 0 }, wantErr: "RATE_LIMIT_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a"}, splitCSV("a"))
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , b ,"))
}
