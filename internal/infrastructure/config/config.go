// Package config provides configuration management for the auth service using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Authentication strategy names.
const (
	StrategyLocalClassic    = "auth_local_classic"
	StrategyLocalNoPassword = "auth_local_no_password"
	StrategyRemoteLDAP      = "auth_remote_ldap"
)

// Config holds all configuration for the auth service.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LDAP      LDAPConfig      `mapstructure:"ldap"`
	TOTP      TOTPConfig      `mapstructure:"totp"`
	EmailOTP  EmailOTPConfig  `mapstructure:"email_otp"`
	WebAuthn  WebAuthnConfig  `mapstructure:"webauthn"`
	Email     EmailConfig     `mapstructure:"email"`
	Password  PasswordConfig  `mapstructure:"password"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logger    LoggerConfig    `mapstructure:"logging"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address returns the Redis address.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
}

// AuthConfig holds the authentication decision configuration.
type AuthConfig struct {
	// Strategy selects the primary password strategy, one of
	// auth_local_classic, auth_local_no_password, auth_remote_ldap.
	Strategy string `mapstructure:"strategy"`

	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`

	// EnforceTwoFactor issues restricted tokens to persons without a
	// configured second factor.
	EnforceTwoFactor     bool     `mapstructure:"enforce_two_factor"`
	TwoFactorExemptUsers []string `mapstructure:"two_factor_exempt_users"`

	DefaultPassword            string `mapstructure:"default_password"`
	ForceDefaultPasswordChange bool   `mapstructure:"force_default_password_change"`

	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
}

// IsTwoFactorExempt reports whether the email is excluded from
// two-factor enforcement.
func (c *AuthConfig) IsTwoFactorExempt(email string) bool {
	for _, exempt := range c.TwoFactorExemptUsers {
		if strings.EqualFold(strings.TrimSpace(exempt), email) {
			return true
		}
	}
	return false
}

// LDAPConfig holds directory server configuration.
type LDAPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	BaseDN     string        `mapstructure:"base_dn"`
	Domain     string        `mapstructure:"domain"`
	Fallback   bool          `mapstructure:"fallback"`
	IsAD       bool          `mapstructure:"is_ad"`
	IsADSimple bool          `mapstructure:"is_ad_simple"`
	SSL        bool          `mapstructure:"ssl"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TOTPConfig holds TOTP second-factor configuration.
type TOTPConfig struct {
	Issuer string `mapstructure:"issuer"`
	Digits int    `mapstructure:"digits"`
	Period uint   `mapstructure:"period"`
}

// EmailOTPConfig holds email OTP second-factor configuration.
type EmailOTPConfig struct {
	// CounterTTL bounds how long a sent code stays verifiable.
	CounterTTL time.Duration `mapstructure:"counter_ttl"`
}

// WebAuthnConfig holds FIDO2 relying-party configuration.
type WebAuthnConfig struct {
	RPID          string        `mapstructure:"rp_id"`
	RPDisplayName string        `mapstructure:"rp_display_name"`
	RPOrigins     []string      `mapstructure:"rp_origins"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// EmailConfig holds email/SMTP configuration.
type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromAddress  string `mapstructure:"from_address"`
	FromName     string `mapstructure:"from_name"`
	UseTLS       bool   `mapstructure:"use_tls"`
	SkipVerify   bool   `mapstructure:"skip_verify"`

	// FrontendURL is the base URL links in emails point at.
	FrontendURL string `mapstructure:"frontend_url"`
}

// PasswordConfig holds password policy configuration.
type PasswordConfig struct {
	MinLength int `mapstructure:"min_length"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxAge         int      `mapstructure:"max_age"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Read config file (optional, env vars can override)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "studiotrack-auth")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.env", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "auth")
	v.SetDefault("database.password", "auth123")
	v.SetDefault("database.name", "auth_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 1)

	// JWT defaults
	v.SetDefault("jwt.secret", "change-this-in-production")
	v.SetDefault("jwt.access_token_ttl", 7*24*time.Hour)
	v.SetDefault("jwt.refresh_token_ttl", 15*24*time.Hour)
	v.SetDefault("jwt.issuer", "studiotrack-auth")

	// Auth defaults
	v.SetDefault("auth.strategy", StrategyLocalClassic)
	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.lockout_duration", 60*time.Second)
	v.SetDefault("auth.enforce_two_factor", false)
	v.SetDefault("auth.two_factor_exempt_users", []string{})
	v.SetDefault("auth.default_password", "default")
	v.SetDefault("auth.force_default_password_change", false)
	v.SetDefault("auth.reset_token_ttl", 2*time.Hour)

	// LDAP defaults
	v.SetDefault("ldap.host", "127.0.0.1")
	v.SetDefault("ldap.port", 389)
	v.SetDefault("ldap.base_dn", "")
	v.SetDefault("ldap.domain", "")
	v.SetDefault("ldap.fallback", true)
	v.SetDefault("ldap.is_ad", false)
	v.SetDefault("ldap.is_ad_simple", false)
	v.SetDefault("ldap.ssl", false)
	v.SetDefault("ldap.timeout", 10*time.Second)

	// TOTP defaults
	v.SetDefault("totp.issuer", "StudioTrack")
	v.SetDefault("totp.digits", 6)
	v.SetDefault("totp.period", 30)

	// Email OTP defaults
	v.SetDefault("email_otp.counter_ttl", 300*time.Second)

	// WebAuthn defaults
	v.SetDefault("webauthn.rp_id", "localhost")
	v.SetDefault("webauthn.rp_display_name", "StudioTrack")
	v.SetDefault("webauthn.rp_origins", []string{"http://localhost:8080"})
	v.SetDefault("webauthn.session_ttl", 10*time.Minute)

	// Email defaults
	v.SetDefault("email.smtp_host", "localhost")
	v.SetDefault("email.smtp_port", 1025)
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_password", "")
	v.SetDefault("email.from_address", "no-reply@studiotrack.local")
	v.SetDefault("email.from_name", "StudioTrack")
	v.SetDefault("email.use_tls", false)
	v.SetDefault("email.skip_verify", false)
	v.SetDefault("email.frontend_url", "http://localhost:8080")

	// Password defaults
	v.SetDefault("password.min_length", 6)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.max_age", 300)

	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_second", 100)

	// Logger defaults
	v.SetDefault("logging.level", "debug")
	v.SetDefault("logging.format", "console")
}

func bindEnvVars(v *viper.Viper) {
	envBindings := []struct {
		key     string
		envName string
	}{
		// Database
		{"database.host", "DATABASE_HOST"},
		{"database.port", "DATABASE_PORT"},
		{"database.user", "DATABASE_USER"},
		{"database.password", "DATABASE_PASSWORD"},
		{"database.name", "DATABASE_NAME"},
		{"database.ssl_mode", "DATABASE_SSLMODE"},
		// Redis
		{"redis.host", "REDIS_HOST"},
		{"redis.port", "REDIS_PORT"},
		{"redis.password", "REDIS_PASSWORD"},
		// JWT
		{"jwt.secret", "JWT_SECRET"},
		{"jwt.access_token_ttl", "JWT_ACCESS_TOKEN_EXPIRES"},
		{"jwt.refresh_token_ttl", "JWT_REFRESH_TOKEN_EXPIRES"},
		// Auth
		{"auth.strategy", "AUTH_STRATEGY"},
		{"auth.enforce_two_factor", "ENFORCE_2FA"},
		{"auth.two_factor_exempt_users", "TWO_FA_EXEMPT_USERS"},
		{"auth.default_password", "DEFAULT_PASSWORD"},
		{"auth.force_default_password_change", "FORCE_DEFAULT_PASSWORD_CHANGE"},
		// LDAP
		{"ldap.host", "LDAP_HOST"},
		{"ldap.port", "LDAP_PORT"},
		{"ldap.base_dn", "LDAP_BASE_DN"},
		{"ldap.domain", "LDAP_DOMAIN"},
		{"ldap.fallback", "LDAP_FALLBACK"},
		{"ldap.is_ad", "LDAP_IS_AD"},
		{"ldap.is_ad_simple", "LDAP_IS_AD_SIMPLE"},
		{"ldap.ssl", "LDAP_SSL"},
		// Email
		{"email.smtp_host", "SMTP_HOST"},
		{"email.smtp_port", "SMTP_PORT"},
		{"email.smtp_user", "SMTP_USER"},
		{"email.smtp_password", "SMTP_PASSWORD"},
		{"email.frontend_url", "FRONTEND_URL"},
		// App
		{"app.env", "APP_ENV"},
		{"logging.level", "LOG_LEVEL"},
	}

	for _, binding := range envBindings {
		if err := v.BindEnv(binding.key, binding.envName); err != nil {
			fmt.Printf("Warning: failed to bind env %s: %v\n", binding.envName, err)
		}
	}
}
