package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "http://localhost:8000", cfg.Remote.BaseURL)
				assert.Equal(t, "reviewflow.db", cfg.Store.Path)
				assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
				assert.Equal(t, 10*time.Minute, cfg.Polling.Budget)
				assert.Equal(t, "reviewflow", cfg.App.Name)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	// invalid_port.yaml carries only the minimum fields, so everything else
	// should come back defaulted
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Remote.Timeout.Heavy)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout.Light)
	assert.Equal(t, 3, cfg.Remote.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Remote.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Remote.Retry.MaxDelay)
	assert.Equal(t, []string{".doc", ".docx"}, cfg.Remote.Upload.AllowedExtensions)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Polling.Budget)
	assert.Equal(t, time.Minute, cfg.Cache.Shortlists.StaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.Cache.Recommendations.StaleAfter)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server: ServerConfig{Port: 8080},
			Remote: RemoteConfig{BaseURL: "http://localhost:8000"},
			Store:  StoreConfig{Path: "reviewflow.db"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty base url",
			mutate:    func(c *Config) { c.Remote.BaseURL = "" },
			wantErr:   true,
			errString: "remote base_url is required",
		},
		{
			name:      "empty store path",
			mutate:    func(c *Config) { c.Store.Path = "" },
			wantErr:   true,
			errString: "store path is required",
		},
		{
			name: "polling interval exceeds budget",
			mutate: func(c *Config) {
				c.Polling.Interval = 20 * time.Minute
			},
			wantErr:   true,
			errString: "must be shorter than polling budget",
		},
		{
			name: "evict window not greater than stale window",
			mutate: func(c *Config) {
				c.Cache.Recommendations = ResourceTTL{
					StaleAfter: 10 * time.Minute,
					EvictAfter: 10 * time.Minute,
				}
			},
			wantErr:   true,
			errString: "evict_after",
		},
		{
			name: "events enabled without host",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Port = 5672
				c.Events.Exchange = "reviewflow_events"
			},
			wantErr:   true,
			errString: "events host is required",
		},
		{
			name: "events enabled without exchange",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Host = "localhost"
				c.Events.Port = 5672
			},
			wantErr:   true,
			errString: "events exchange name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing store path", func(t *testing.T) {
		cfg, err := Load("testdata/missing_store.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store path is required")
	})
}
