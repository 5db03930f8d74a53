package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the edge HTTP API server (the evaluation surface).
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// DefaultTimeout is the per-evaluation budget applied when the request
	// does not carry one. It bounds config fetches; exceeding it degrades
	// rather than fails.
	DefaultTimeout time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"50ms"`

	// MaxBatchSize caps the number of subjects in a single batch request.
	MaxBatchSize int `envconfig:"MAX_BATCH_SIZE" default:"500" validate:"min=1"`

	// TLS
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate performs validation on the ServerConfig.
func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "server"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "server"); err != nil {
		return err
	}

	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("server default timeout must be positive, got %s", c.DefaultTimeout)
	}

	if environment == EnvironmentProduction && !c.TLSEnabled {
		return fmt.Errorf("TLS must be enabled in production environment")
	}
	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}
