package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Adyen         AdyenConfig         `mapstructure:"adyen"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Environment   string              `mapstructure:"environment"`
	// Extensions maps installed host-platform extension names to their
	// versions, used by the diagnostic checks.
	Extensions map[string]string `mapstructure:"extensions"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type AdyenConfig struct {
	// APITimeout bounds every outbound gateway call.
	APITimeout time.Duration     `mapstructure:"api_timeout"`
	Processors []ProcessorConfig `mapstructure:"processors"`
}

// ProcessorConfig is one configured Adyen merchant account. HMACKeys is
// ordered but order is not significant: during key rotation any key may be
// the live one, so signature verification tries all of them.
type ProcessorConfig struct {
	ID              int64    `mapstructure:"id"`
	Name            string   `mapstructure:"name"`
	MerchantAccount string   `mapstructure:"merchant_account"`
	APIKey          string   `mapstructure:"api_key"`
	HMACKeys        []string `mapstructure:"hmac_keys"`
	URLPrefix       string   `mapstructure:"url_prefix"`
	IsTest          bool     `mapstructure:"is_test"`
	// BaseURL overrides the derived Adyen endpoint. Used in tests.
	BaseURL string `mapstructure:"base_url"`
}

type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Adyen.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("adyen config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url %s: %w", c.BaseURL, err)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *AdyenConfig) Validate() error {
	if len(c.Processors) == 0 {
		return errors.New("at least one payment processor must be configured")
	}
	seen := make(map[int64]bool, len(c.Processors))
	for i := range c.Processors {
		p := &c.Processors[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("processor %d: %w", p.ID, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate processor id %d", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func (p *ProcessorConfig) Validate() error {
	if p.ID <= 0 {
		return errors.New("id is required")
	}
	if strings.TrimSpace(p.MerchantAccount) == "" {
		return errors.New("merchant_account is required")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("api_key is required")
	}
	if len(p.HMACKeys) == 0 {
		return errors.New("at least one hmac_key is required")
	}
	if !p.IsTest && p.URLPrefix == "" {
		return errors.New("url_prefix is required for live processors")
	}
	return nil
}

// WebhookPath returns the callback path the gateway should be configured
// to deliver notifications to for this processor.
func (p *ProcessorConfig) WebhookPath(baseURL string) string {
	return fmt.Sprintf("%s/api/v1/webhook/adyen/%d", strings.TrimRight(baseURL, "/"), p.ID)
}
