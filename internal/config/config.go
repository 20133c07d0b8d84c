package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// HTTP Server
	Port     string `env:"PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend selection
	DataBackend   string `env:"DATA_BACKEND" envDefault:"memory"`
	DataDirectory string `env:"DATA_DIRECTORY" envDefault:"data"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/participation.db"`
	PostgresDSN  string `env:"POSTGRES_DSN"`

	// Firestore
	Firebase FirebaseConfig

	// Timeouts and lifetimes
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	ReferenceCacheTTL time.Duration `env:"REFERENCE_CACHE_TTL" envDefault:"5m"`

	// AMQP
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"participation"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"month_saved"`

	// Google Sheets mirror (worker)
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName          string `env:"GOOGLE_SHEET_NAME" envDefault:"Participations"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`

	// ResyncMonths lists employee-months (E1/2024-03) the worker mirrors at
	// startup.
	ResyncMonths []string `env:"RESYNC_MONTHS" envSeparator:","`
}

// FirebaseConfig carries the Firestore project and one of three credential
// sources: inline JSON, discrete service-account fields, or a key file.
type FirebaseConfig struct {
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE" envDefault:"serviceAccountKey.json"`
	CredentialsJSON string `env:"FIREBASE_CREDENTIALS_JSON"`
	EmulatorHost    string `env:"FIRESTORE_EMULATOR_HOST"`

	Type                string `env:"FIREBASE_TYPE" envDefault:"service_account"`
	PrivateKeyID        string `env:"FIREBASE_PRIVATE_KEY_ID"`
	PrivateKey          string `env:"FIREBASE_PRIVATE_KEY"`
	ClientEmail         string `env:"FIREBASE_CLIENT_EMAIL"`
	ClientID            string `env:"FIREBASE_CLIENT_ID"`
	AuthURI             string `env:"FIREBASE_AUTH_URI" envDefault:"https://accounts.google.com/o/oauth2/auth"`
	TokenURI            string `env:"FIREBASE_TOKEN_URI" envDefault:"https://oauth2.googleapis.com/token"`
	AuthProviderCertURL string `env:"FIREBASE_AUTH_PROVIDER_CERT_URL" envDefault:"https://www.googleapis.com/oauth2/v1/certs"`
	ClientCertURL       string `env:"FIREBASE_CLIENT_CERT_URL"`
}

var (
	validBackends  = []string{"memory", "firestore", "sqlite", "postgres"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// HasFields reports whether the discrete service-account fields are set.
func (f FirebaseConfig) HasFields() bool {
	return f.PrivateKey != "" && f.ClientEmail != ""
}

// CredentialsJSONBytes returns inline credentials, assembling them from the
// discrete fields when no JSON blob is configured. It returns nil when the
// key file (or the emulator) should be used instead.
func (f FirebaseConfig) CredentialsJSONBytes() ([]byte, error) {
	if f.CredentialsJSON != "" {
		if !json.Valid([]byte(f.CredentialsJSON)) {
			return nil, fmt.Errorf("FIREBASE_CREDENTIALS_JSON is not valid JSON")
		}
		return []byte(f.CredentialsJSON), nil
	}
	if !f.HasFields() {
		return nil, nil
	}
	// Private keys pasted into env vars usually carry literal \n sequences.
	creds := map[string]string{
		"type":                        f.Type,
		"project_id":                  f.ProjectID,
		"private_key_id":              f.PrivateKeyID,
		"private_key":                 strings.ReplaceAll(f.PrivateKey, `\n`, "\n"),
		"client_email":                f.ClientEmail,
		"client_id":                   f.ClientID,
		"auth_uri":                    f.AuthURI,
		"token_uri":                   f.TokenURI,
		"auth_provider_x509_cert_url": f.AuthProviderCertURL,
		"client_x509_cert_url":        f.ClientCertURL,
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal firebase credentials: %w", err)
	}
	return b, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}

	// Validate data backend
	if !contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}

	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "POSTGRES_DSN is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresDSN); err == nil && u.Scheme != "" && u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid POSTGRES_DSN scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}

	case "firestore":
		f := c.Firebase
		if f.ProjectID == "" {
			errors = append(errors, "FIREBASE_PROJECT_ID is required when using firestore backend")
		}
		if f.CredentialsJSON != "" && !json.Valid([]byte(f.CredentialsJSON)) {
			errors = append(errors, "FIREBASE_CREDENTIALS_JSON is not valid JSON")
		}
		if f.CredentialsJSON == "" && !f.HasFields() && f.EmulatorHost == "" {
			if f.CredentialsFile == "" {
				errors = append(errors, "one of FIREBASE_CREDENTIALS_JSON, FIREBASE_PRIVATE_KEY/FIREBASE_CLIENT_EMAIL or FIREBASE_CREDENTIALS_FILE must be provided for firestore backend")
			} else if _, err := os.Stat(f.CredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Firebase credentials file does not exist: %s", f.CredentialsFile))
			}
		}
	}

	if c.StoreTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid store timeout %v: must be at least 1 second", c.StoreTimeout))
	} else if c.StoreTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid store timeout %v: must be at most 5 minutes", c.StoreTimeout))
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.ReferenceCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid reference cache TTL %v: must not be negative", c.ReferenceCacheTTL))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateMirror checks the settings the spreadsheet mirror worker needs on
// top of Validate.
func (c *Config) ValidateMirror() error {
	var errors []string

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the mirror worker")
	}
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the mirror worker")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "GOOGLE_SHEET_NAME is required for the mirror worker")
	}

	hasFile := c.GoogleServiceAccountFile != ""
	hasJSON := c.GoogleServiceAccountJSON != ""
	if !hasFile && !hasJSON {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for the mirror worker")
	}
	if hasFile {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("mirror configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
