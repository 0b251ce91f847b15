package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// ShareBaseURL is the public origin embedded in guest share links,
	// e.g. https://portal.example.com. Tokens are appended as /guest/<token>.
	ShareBaseURL string `mapstructure:"SHARE_BASE_URL"`

	AIGatewayURL string `mapstructure:"AI_GATEWAY_URL"`
	AIGatewayKey string `mapstructure:"AI_GATEWAY_KEY"`
	AIModel      string `mapstructure:"AI_MODEL"`

	TopusBaseURL  string `mapstructure:"TOPUS_BASE_URL"`
	TopusAPIKey   string `mapstructure:"TOPUS_API_KEY"`
	RethusBaseURL string `mapstructure:"RETHUS_BASE_URL"`
	RethusAPIKey  string `mapstructure:"RETHUS_API_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SHARE_BASE_URL", "http://localhost:3000")
	v.SetDefault("AI_GATEWAY_URL", "https://api.openai.com/v1")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"SHARE_BASE_URL",
		"AI_GATEWAY_URL", "AI_GATEWAY_KEY", "AI_MODEL",
		"TOPUS_BASE_URL", "TOPUS_API_KEY", "RETHUS_BASE_URL", "RETHUS_API_KEY",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests are trusted.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production real
// JWT authentication, a public share-link origin, and AI gateway credentials
// must all be configured.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER is required in production; refusing to start without authentication")
		}
		if c.ShareBaseURL == "" || strings.HasPrefix(c.ShareBaseURL, "http://localhost") {
			return fmt.Errorf("SHARE_BASE_URL must be a public origin in production, got %q", c.ShareBaseURL)
		}
		if c.AIGatewayKey == "" {
			return fmt.Errorf("AI_GATEWAY_KEY is required in production")
		}
	}
	if strings.HasSuffix(c.ShareBaseURL, "/") {
		return fmt.Errorf("SHARE_BASE_URL must not end with a slash, got %q", c.ShareBaseURL)
	}
	return nil
}
