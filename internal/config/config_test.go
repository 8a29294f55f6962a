package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "credcheck.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "sqlite", cfg.Index.Driver)
	assert.Equal(t, "reference_records", cfg.Index.Table)
	assert.Equal(t, 768, cfg.Index.Dimensions)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, "text-embedding-004", cfg.Gemini.EmbeddingModel)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, "tesseract", cfg.OCR.TesseractPath)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.CallTimeout())
	assert.Equal(t, 5, cfg.Pipeline.ClassifierTopK)
	assert.Equal(t, 1, cfg.Pipeline.VerifierTopK)
	assert.Equal(t, 60, cfg.Pipeline.ValidBaseScore)
	assert.Equal(t, 20, cfg.Pipeline.InvalidBaseScore)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "uploads", cfg.Server.UploadDir)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/credcheck
llm:
  provider: anthropic
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins:
    - https://app.example.com
pipeline:
  valid_base_score: 70
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/credcheck", cfg.Store.DatabaseURL)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 70, cfg.Pipeline.ValidBaseScore)
	// Defaults still apply for unset values
	assert.Equal(t, 20, cfg.Pipeline.InvalidBaseScore)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CREDCHECK_STORE_DRIVER", "postgres")
	t.Setenv("CREDCHECK_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvSecrets(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CREDCHECK_GEMINI_KEY", "gm-key")
	t.Setenv("CREDCHECK_ANTHROPIC_KEY", "sk-ant")
	t.Setenv("CREDCHECK_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gm-key", cfg.Gemini.Key)
	assert.Equal(t, "sk-ant", cfg.Anthropic.Key)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  driver: memory\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Index.Driver)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation for every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "credcheck.db"
	cfg.Index.Driver = "sqlite"
	cfg.Index.DatabaseURL = "credcheck.db"
	cfg.Index.Dimensions = 768
	cfg.LLM.Provider = "gemini"
	cfg.Gemini.Key = "gm-key"
	cfg.OCR.Provider = "local"
	cfg.Pipeline.ValidBaseScore = 60
	cfg.Pipeline.InvalidBaseScore = 20
	cfg.Server.Port = 8080
	cfg.Batch.MaxConcurrent = 4
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"evaluate", "batch", "seed", "serve", "reports"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateEvaluate_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Gemini.Key = ""
	cfg.Store.DatabaseURL = ""
	cfg.Index.DatabaseURL = ""

	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "index.database_url is required")
}

func TestValidate_AnthropicNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "anthropic"

	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant"
	assert.NoError(t, cfg.Validate("evaluate"))
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "openai"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `llm.provider "openai" is not supported`)
}

func TestValidate_MistralNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key is required")
}

func TestValidate_MemoryIndexNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Index.Driver = "memory"
	cfg.Index.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("evaluate"))

	cfg.Index.Driver = "redis"
	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `index.driver "redis" is not supported`)
}

func TestValidateSeed_SkipsStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("seed"))

	cfg.Gemini.Key = ""
	err := cfg.Validate("seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")
}

func TestValidateReports_OnlyNeedsStore(t *testing.T) {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "credcheck.db"
	assert.NoError(t, cfg.Validate("reports"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateBatch_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrent = 0
	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_concurrent must be between 1 and 50")

	cfg.Batch.MaxConcurrent = 51
	assert.Error(t, cfg.Validate("batch"))

	cfg.Batch.MaxConcurrent = 50
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidate_BaseScoreBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.ValidBaseScore = 120

	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base scores must be between 0 and 100")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
