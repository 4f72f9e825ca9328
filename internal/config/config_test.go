package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadYAML(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	BindEnv(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return LoadFrom(v)
}

const minimalYAML = `
security:
  api_key: sk-test
upstream:
  base_url: https://prompt.example.com/
`

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := loadYAML(t, minimalYAML)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8045, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)

	assert.Equal(t, "https://prompt.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "teleprompt2api/"+Version, cfg.Upstream.UserAgent)
	assert.Empty(t, cfg.Upstream.BearerToken)

	assert.Equal(t, DefaultModel, cfg.Models.Default)
	assert.Equal(t, DefaultOwner, cfg.Models.OwnedBy)
	assert.Equal(t, DefaultRoutes, cfg.Models.Routes)

	assert.Equal(t, DefaultChunkSize, cfg.Stream.ChunkSize)
	assert.Equal(t, DefaultStreamDelay, cfg.Stream.Delay)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, "teleprompt2api", cfg.Metrics.Namespace)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := loadYAML(t, `
server:
  port: 9000
security:
  api_key: sk-test
upstream:
  base_url: https://prompt.example.com
  timeout: 5s
  bearer_token: tok
models:
  default: fast
  routes:
    fast: /api/fast
    slow: /api/slow
stream:
  chunk_size: 5
  delay: 25ms
metrics:
  enabled: false
`)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "tok", cfg.Upstream.BearerToken)
	assert.Equal(t, "fast", cfg.Models.Default)
	assert.Equal(t, map[string]string{"fast": "/api/fast", "slow": "/api/slow"}, cfg.Models.Routes)
	assert.Equal(t, 5, cfg.Stream.ChunkSize)
	assert.Equal(t, 25*time.Millisecond, cfg.Stream.Delay)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFrom_ExplicitZeroDelay(t *testing.T) {
	cfg, err := loadYAML(t, minimalYAML+`
stream:
  delay: 0s
`)
	require.NoError(t, err)
	assert.Zero(t, cfg.Stream.Delay)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Run("API_MASTER_KEY", func(t *testing.T) {
		t.Setenv("API_MASTER_KEY", "sk-from-env")

		cfg, err := loadYAML(t, `
upstream:
  base_url: https://prompt.example.com
`)
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Security.APIKey)
	})

	t.Run("nested key", func(t *testing.T) {
		t.Setenv("UPSTREAM_BASE_URL", "https://other.example.com")

		cfg, err := loadYAML(t, minimalYAML)
		require.NoError(t, err)
		assert.Equal(t, "https://other.example.com", cfg.Upstream.BaseURL)
	})
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing upstream",
			yaml: "security:\n  api_key: sk-test\n",
			want: "upstream.base_url",
		},
		{
			name: "missing key",
			yaml: "upstream:\n  base_url: https://x\n",
			want: "security.api_key",
		},
		{
			name: "port out of range",
			yaml: minimalYAML + "server:\n  port: 70000\n",
			want: "invalid port",
		},
		{
			name: "negative chunk size",
			yaml: minimalYAML + "stream:\n  chunk_size: -1\n",
			want: "stream.chunk_size",
		},
		{
			name: "negative delay",
			yaml: minimalYAML + "stream:\n  delay: -1s\n",
			want: "stream.delay",
		},
		{
			name: "default without route",
			yaml: minimalYAML + "models:\n  default: nope\n",
			want: `default model "nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadYAML(t, tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFrom_AuthDisabledNeedsNoKey(t *testing.T) {
	cfg, err := loadYAML(t, `
security:
  auth_disabled: true
upstream:
  base_url: https://prompt.example.com
`)
	require.NoError(t, err)
	assert.True(t, cfg.Security.AuthDisabled)
	assert.Empty(t, cfg.Security.APIKey)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	viper.SetConfigFile(path)

	cfg := Default()
	cfg.Security.APIKey = "sk-saved"
	cfg.Upstream.BaseURL = "https://prompt.example.com"
	cfg.Stream.ChunkSize = 3
	require.NoError(t, SaveConfig(cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, "sk-saved", doc["security"]["api_key"])
	assert.Equal(t, "https://prompt.example.com", doc["upstream"]["base_url"])
	assert.Equal(t, 3, doc["stream"]["chunk_size"])

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	loaded, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGenerateAPIKey(t *testing.T) {
	a := GenerateAPIKey()
	b := GenerateAPIKey()

	assert.True(t, strings.HasPrefix(a, "sk-"))
	assert.Len(t, a, 35)
	assert.NotEqual(t, a, b)
}

func TestDefault_FailsWithoutUpstream(t *testing.T) {
	cfg := Default()
	cfg.Security.APIKey = "sk-test"
	assert.ErrorContains(t, cfg.Validate(), "upstream.base_url")

	cfg.Upstream.BaseURL = "https://prompt.example.com"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_EnvOnlyKeys(t *testing.T) {
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SECURITY_AUTH_DISABLED", "true")
	t.Setenv("STREAM_DELAY", "0s")

	cfg, err := loadYAML(t, `
upstream:
  base_url: https://prompt.example.com
`)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Security.AuthDisabled)
	assert.Zero(t, cfg.Stream.Delay)
}

func freshGlobalConfig(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	viper.SetConfigFile(path)
	BindEnv(viper.GetViper())
	return path
}

func TestLoadOrCreate_FreshFileKeepsOverrides(t *testing.T) {
	path := freshGlobalConfig(t)
	viper.Set("server.port", 9000)
	viper.Set("security.auth_disabled", true)
	viper.Set("upstream.base_url", "http://up.example")

	cfg, err := LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Security.AuthDisabled)
	assert.Empty(t, cfg.Security.APIKey)
	assert.Equal(t, DefaultStreamDelay, cfg.Stream.Delay)

	// later runs read the same values back from the written file
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	reloaded, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, reloaded.Server.Port)
	assert.True(t, reloaded.Security.AuthDisabled)
	assert.Equal(t, "http://up.example", reloaded.Upstream.BaseURL)
}

func TestLoadOrCreate_FreshFileFromEnv(t *testing.T) {
	t.Setenv("API_MASTER_KEY", "sk-from-env")
	t.Setenv("UPSTREAM_BASE_URL", "http://up.example")
	t.Setenv("STREAM_CHUNK_SIZE", "4")
	freshGlobalConfig(t)

	cfg, err := LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Security.APIKey)
	assert.Equal(t, "http://up.example", cfg.Upstream.BaseURL)
	assert.Equal(t, 4, cfg.Stream.ChunkSize)
}

func TestLoadOrCreate_GeneratesKeyWhenAuthEnabled(t *testing.T) {
	path := freshGlobalConfig(t)
	viper.Set("upstream.base_url", "http://up.example")

	cfg, err := LoadOrCreate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.Security.APIKey, "sk-"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), cfg.Security.APIKey)
}
