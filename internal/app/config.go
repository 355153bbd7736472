package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// Pricing selects the discount strategy applied to carts: "promo"
	// (every second unit of eligible products is free) or "coupon"
	// (percentage codes).
	Pricing   string `default:"promo" usage:"Discount strategy: promo or coupon"`
	Payment   PaymentConfig
	SMTP      SMTPConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// PaymentConfig configures the payment gateway client.
type PaymentConfig struct {
	BaseURL       string        `default:"https://api.mercadopago.com" usage:"Payment gateway base URL" flag:"payment-base-url"`
	AccessToken   string        `usage:"Payment gateway access token (STORE_PAYMENT_ACCESS_TOKEN)" flag:"payment-access-token"`
	SuccessURL    string        `usage:"Redirect URL after approved hosted checkout" flag:"payment-success-url"`
	FailureURL    string        `usage:"Redirect URL after failed hosted checkout" flag:"payment-failure-url"`
	PayerEmail    string        `usage:"Payer email sent with Pix charges" flag:"payment-payer-email"`
	PayerDocument string        `usage:"Payer CPF sent with Pix charges" flag:"payment-payer-document"`
	Timeout       time.Duration `default:"15s" usage:"Gateway request timeout" flag:"payment-timeout"`
}

// SMTPConfig configures outgoing confirmation email. Leaving Host empty
// disables email entirely.
type SMTPConfig struct {
	Host       string `usage:"SMTP server host; empty disables email" flag:"smtp-host"`
	Port       int    `default:"587" usage:"SMTP server port" flag:"smtp-port"`
	Username   string `usage:"SMTP username" flag:"smtp-username"`
	Password   string `usage:"SMTP password" flag:"smtp-password"`
	From       string `usage:"From address for outgoing mail" flag:"smtp-from"`
	AdminEmail string `usage:"Store operator address for payment notices" flag:"admin-email"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/vitrine/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Pricing != "promo" && cfg.Pricing != "coupon" {
		return nil, errors.Errorf("unknown pricing strategy %q", cfg.Pricing)
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
