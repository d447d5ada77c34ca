package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider and API key. The gemini provider reads GEMINI_API_KEY
	// directly through Genkit, so only its presence is checked here.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty for the ollama provider", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	// ModelName may be empty: the service then runs in degraded mode
	// and answers with the best-matching stored answer verbatim.

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Dimension must match the embedder output exactly; 4096 is a
	// generous ceiling covering current embedding models.
	if c.Dimension < 1 || c.Dimension > 4096 {
		return fmt.Errorf("%w: must be between 1 and 4096, got %d", ErrInvalidDimension, c.Dimension)
	}

	if c.IndexDir == "" {
		return fmt.Errorf("%w: index_dir cannot be empty", ErrInvalidIndexDir)
	}

	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxTopK, c.TopK)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: must be within [0, 1], got %.2f", ErrInvalidConfidenceThreshold, c.ConfidenceThreshold)
	}

	if c.SyncIntervalSeconds < 1 {
		return fmt.Errorf("%w: sync_interval_seconds must be positive, got %d", ErrInvalidSyncInterval, c.SyncIntervalSeconds)
	}
	if c.MinRebuildIntervalSeconds < 0 {
		return fmt.Errorf("%w: min_rebuild_interval_seconds must not be negative, got %d", ErrInvalidSyncInterval, c.MinRebuildIntervalSeconds)
	}
	if c.UptimeThresholdSeconds < 0 {
		return fmt.Errorf("%w: uptime_threshold_seconds must not be negative, got %d", ErrInvalidSyncInterval, c.UptimeThresholdSeconds)
	}
	if c.GenerateTimeoutSeconds < 1 {
		return fmt.Errorf("%w: generate_timeout_seconds must be positive, got %d", ErrInvalidSyncInterval, c.GenerateTimeoutSeconds)
	}
	if c.SourceTimeoutSeconds < 1 {
		return fmt.Errorf("%w: source_timeout_seconds must be positive, got %d", ErrInvalidSyncInterval, c.SourceTimeoutSeconds)
	}

	// PostgreSQL configuration.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "sage_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are MITM vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: must be one of %v, got %q", ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	return nil
}
