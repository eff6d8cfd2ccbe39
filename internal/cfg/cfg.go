package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
)

// minJWTSecretLen is the shortest accepted HS256 signing secret in bytes.
const minJWTSecretLen = 32

// Config holds app-specific configuration. Log, tracing and profiling
// settings are registered separately by go-core.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ClaudeAPIKey          string
	ClaudeModel           string
	ExplainTimeoutSeconds int

	DatabaseURL string
	SQLitePath  string

	MaxUploadMB       int
	MaxSamples        int
	Workers           int
	ScoringConfigPath string

	LokiEndpoint string
	LokiTenantID string

	SlackWebhookURL  string
	SlackMinPriority string

	RetentionSchedule string
	RetentionMaxAge   time.Duration

	APIToken  string
	JWTSecret string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude explainer (empty = deterministic fallback only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ExplainTimeoutSeconds, "explain-timeout-seconds", 30, "per-call timeout for the Claude explainer (1..300)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")
	fs.IntVar(&c.MaxUploadMB, "max-upload-mb", 50, "maximum upload size in MiB (1..1024)")
	fs.IntVar(&c.MaxSamples, "max-samples", 8, "maximum sample lines per evidence bundle (2..100)")
	fs.IntVar(&c.Workers, "workers", 4, "concurrent per-incident workers (1..64)")
	fs.StringVar(&c.ScoringConfigPath, "scoring-config", "", "YAML file overlaying the default scoring weights and thresholds")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki base URL (empty = /analyze/loki disabled)")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run notifications")
	fs.StringVar(&c.SlackMinPriority, "slack-min-priority", "P1", "lowest incident priority that triggers a Slack notification (P0..P3)")
	fs.StringVar(&c.RetentionSchedule, "retention-schedule", "", "cron schedule for deleting old runs, e.g. @daily (empty = keep forever)")
	fs.DurationVar(&c.RetentionMaxAge, "retention-max-age", 30*24*time.Hour, "age after which runs are deleted by the retention sweep")
	fs.StringVar(&c.APIToken, "api-token", "", "static bearer token for /api/v1")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret for bearer JWTs on /api/v1 (at least 32 bytes)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.ExplainTimeoutSeconds <= 0 || c.ExplainTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid EXPLAIN_TIMEOUT_SECONDS %d (must be 1..300)", c.ExplainTimeoutSeconds))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if c.MaxUploadMB <= 0 || c.MaxUploadMB > 1024 {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_MB %d (must be 1..1024)", c.MaxUploadMB))
	}
	if c.MaxSamples < evidence.MinSamples || c.MaxSamples > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_SAMPLES %d (must be %d..100)", c.MaxSamples, evidence.MinSamples))
	}
	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}

	if c.LokiTenantID != "" && c.LokiEndpoint == "" {
		errs = append(errs, errors.New("LOKI_TENANT_ID requires LOKI_ENDPOINT"))
	}

	if _, ok := scoring.ParsePriority(c.SlackMinPriority); !ok {
		errs = append(errs, fmt.Errorf("invalid SLACK_MIN_PRIORITY %q (must be P0..P3)", c.SlackMinPriority))
	}

	if c.RetentionSchedule != "" && c.RetentionMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETENTION_MAX_AGE %s (must be positive)", c.RetentionMaxAge))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// MinPriority returns the parsed Slack threshold, defaulting to P1.
func (c *Config) MinPriority() scoring.Priority {
	p, ok := scoring.ParsePriority(c.SlackMinPriority)
	if !ok {
		return scoring.P1
	}
	return p
}

// AuthEnabled reports whether /api/v1 requires a bearer credential.
func (c *Config) AuthEnabled() bool {
	return c.APIToken != "" || c.JWTSecret != ""
}
