package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Account  AccountConfig  `yaml:"account"`
	Mail     MailConfig     `yaml:"mail"`
	Voice    VoiceConfig    `yaml:"voice"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

type DynamoDBConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	TableName       string `yaml:"table_name"`
	EmailIndex      string `yaml:"email_index"`
	PhoneIndex      string `yaml:"phone_index"`
	ResetTokenIndex string `yaml:"reset_token_index"`
}

// RedisConfig configures the sweep lock. An empty endpoint disables it.
type RedisConfig struct {
	Endpoint string `yaml:"endpoint"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Expiry    time.Duration `yaml:"expiry"`
}

type AccountConfig struct {
	CodeLength              int           `yaml:"code_length"`
	CodeTTL                 time.Duration `yaml:"code_ttl"`
	ResetTokenTTL           time.Duration `yaml:"reset_token_ttl"`
	MaxRegistrationAttempts int           `yaml:"max_registration_attempts"`
	RetryWindow             time.Duration `yaml:"retry_window"`
	UnverifiedRetention     time.Duration `yaml:"unverified_retention"`
	ReaperInterval          time.Duration `yaml:"reaper_interval"`
	PhonePattern            string        `yaml:"phone_pattern"`
	PhoneRegion             string        `yaml:"phone_region"`
	FrontendURL             string        `yaml:"frontend_url"`
}

type MailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
}

type VoiceConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromPhone  string `yaml:"from_phone"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CORSOrigins:  []string{"http://localhost:5173"},
		},
		DynamoDB: DynamoDBConfig{
			Region:          "us-east-1",
			TableName:       "Accounts",
			EmailIndex:      "email-index",
			PhoneIndex:      "phone-index",
			ResetTokenIndex: "reset-token-index",
		},
		JWT: JWTConfig{
			Expiry: 7 * 24 * time.Hour,
		},
		Account: AccountConfig{
			CodeLength:              6,
			CodeTTL:                 10 * time.Minute,
			ResetTokenTTL:           15 * time.Minute,
			MaxRegistrationAttempts: 3,
			RetryWindow:             time.Hour,
			UnverifiedRetention:     time.Hour,
			ReaperInterval:          30 * time.Minute,
			PhonePattern:            `^\+923\d{9}$`,
			PhoneRegion:             "PK",
			FrontendURL:             "http://localhost:5173",
		},
		Mail: MailConfig{
			SMTPPort: 465,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.CORSOrigins = getEnvAsList("FRONTEND_ORIGINS", cfg.Server.CORSOrigins)

	cfg.DynamoDB.Endpoint = getEnv("DYNAMODB_ENDPOINT", cfg.DynamoDB.Endpoint)
	cfg.DynamoDB.Region = getEnv("DYNAMODB_REGION", cfg.DynamoDB.Region)
	cfg.DynamoDB.TableName = getEnv("DYNAMODB_TABLE_NAME", cfg.DynamoDB.TableName)
	cfg.DynamoDB.EmailIndex = getEnv("DYNAMODB_EMAIL_INDEX", cfg.DynamoDB.EmailIndex)
	cfg.DynamoDB.PhoneIndex = getEnv("DYNAMODB_PHONE_INDEX", cfg.DynamoDB.PhoneIndex)
	cfg.DynamoDB.ResetTokenIndex = getEnv("DYNAMODB_RESET_TOKEN_INDEX", cfg.DynamoDB.ResetTokenIndex)

	cfg.Redis.Endpoint = getEnv("REDIS_ENDPOINT", cfg.Redis.Endpoint)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.JWT.SecretKey = getEnv("JWT_SECRET_KEY", cfg.JWT.SecretKey)
	cfg.JWT.Expiry = getEnvAsDuration("JWT_EXPIRY", cfg.JWT.Expiry)

	cfg.Account.CodeLength = getEnvAsInt("OTP_LENGTH", cfg.Account.CodeLength)
	cfg.Account.CodeTTL = getEnvAsDuration("OTP_EXPIRY", cfg.Account.CodeTTL)
	cfg.Account.ResetTokenTTL = getEnvAsDuration("RESET_TOKEN_EXPIRY", cfg.Account.ResetTokenTTL)
	cfg.Account.MaxRegistrationAttempts = getEnvAsInt("MAX_REGISTRATION_ATTEMPTS", cfg.Account.MaxRegistrationAttempts)
	cfg.Account.RetryWindow = getEnvAsDuration("REGISTRATION_RETRY_WINDOW", cfg.Account.RetryWindow)
	cfg.Account.UnverifiedRetention = getEnvAsDuration("UNVERIFIED_RETENTION", cfg.Account.UnverifiedRetention)
	cfg.Account.ReaperInterval = getEnvAsDuration("REAPER_INTERVAL", cfg.Account.ReaperInterval)
	cfg.Account.PhonePattern = getEnv("PHONE_PATTERN", cfg.Account.PhonePattern)
	cfg.Account.PhoneRegion = getEnv("PHONE_REGION", cfg.Account.PhoneRegion)
	cfg.Account.FrontendURL = getEnv("FRONTEND_URL", cfg.Account.FrontendURL)

	cfg.Mail.SMTPHost = getEnv("SMTP_HOST", cfg.Mail.SMTPHost)
	cfg.Mail.SMTPPort = getEnvAsInt("SMTP_PORT", cfg.Mail.SMTPPort)
	cfg.Mail.SMTPUser = getEnv("SMTP_USER", cfg.Mail.SMTPUser)
	cfg.Mail.SMTPPassword = getEnv("SMTP_PASSWORD", cfg.Mail.SMTPPassword)
	cfg.Mail.FromEmail = getEnv("SMTP_FROM", cfg.Mail.FromEmail)

	cfg.Voice.AccountSID = getEnv("TWILIO_ACCOUNT_SID", cfg.Voice.AccountSID)
	cfg.Voice.AuthToken = getEnv("TWILIO_AUTH_TOKEN", cfg.Voice.AuthToken)
	cfg.Voice.FromPhone = getEnv("TWILIO_FROM_PHONE", cfg.Voice.FromPhone)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if _, err := regexp.Compile(c.Account.PhonePattern); err != nil {
		return fmt.Errorf("invalid phone pattern: %w", err)
	}

	if c.Account.CodeLength < 4 || c.Account.CodeLength > 9 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 9, got %d", c.Account.CodeLength)
	}

	if c.Account.MaxRegistrationAttempts < 1 {
		return fmt.Errorf("MAX_REGISTRATION_ATTEMPTS must be positive")
	}

	if c.Account.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}

	// The throttle counts unverified rows, so the reaper must not drop them
	// before the retry window has passed.
	if c.Account.UnverifiedRetention < c.Account.RetryWindow {
		return fmt.Errorf("UNVERIFIED_RETENTION (%s) must not be shorter than REGISTRATION_RETRY_WINDOW (%s)",
			c.Account.UnverifiedRetention, c.Account.RetryWindow)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
