package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	SMTP         SMTPConfig
	Mpesa        MpesaConfig
	Payments     PaymentsConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAMPUS_APP_ENV" required:"true"`
	Port         string `envconfig:"CAMPUS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CAMPUS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAMPUS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CAMPUS_DB_DSN"`
	Driver string `envconfig:"CAMPUS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CAMPUS_DB_HOST"`
	LegacyPort     int    `envconfig:"CAMPUS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CAMPUS_DB_USER"`
	LegacyPassword string `envconfig:"CAMPUS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CAMPUS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CAMPUS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAMPUS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAMPUS_REDIS_ADDR"`
	Password     string        `envconfig:"CAMPUS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CAMPUS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CAMPUS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CAMPUS_JWT_EXPIRATION_MINUTES" required:"true"`
}

type SMTPConfig struct {
	Host     string `envconfig:"CAMPUS_SMTP_HOST" default:"smtp.gmail.com"`
	Port     int    `envconfig:"CAMPUS_SMTP_PORT" default:"587"`
	User     string `envconfig:"CAMPUS_SMTP_USER"`
	Password string `envconfig:"CAMPUS_SMTP_PASS"`
	From     string `envconfig:"CAMPUS_SMTP_FROM"`
}

// Sender resolves the From address, falling back to the SMTP user.
func (s SMTPConfig) Sender() string {
	if s.From != "" {
		return s.From
	}
	return s.User
}

type MpesaConfig struct {
	BaseURL         string        `envconfig:"CAMPUS_MPESA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	ConsumerKey     string        `envconfig:"CAMPUS_MPESA_CONSUMER_KEY" required:"true"`
	ConsumerSecret  string        `envconfig:"CAMPUS_MPESA_CONSUMER_SECRET" required:"true"`
	Shortcode       string        `envconfig:"CAMPUS_MPESA_SHORTCODE" required:"true"`
	Passkey         string        `envconfig:"CAMPUS_MPESA_PASSKEY" required:"true"`
	CallbackBaseURL string        `envconfig:"CAMPUS_MPESA_CALLBACK_BASE_URL" required:"true"`
	AccountRef      string        `envconfig:"CAMPUS_MPESA_ACCOUNT_REF" default:"SirBrams Tech Virtual Campus"`
	TransactionDesc string        `envconfig:"CAMPUS_MPESA_TRANSACTION_DESC" default:"Virtual Campus Charges"`
	HTTPTimeout     time.Duration `envconfig:"CAMPUS_MPESA_HTTP_TIMEOUT" default:"30s"`
	TokenMargin     time.Duration `envconfig:"CAMPUS_MPESA_TOKEN_MARGIN" default:"60s"`
}

type PaymentsConfig struct {
	CorrelationTTL time.Duration `envconfig:"CAMPUS_PAYMENTS_CORRELATION_TTL" default:"3h"`
	SessionTTL     time.Duration `envconfig:"CAMPUS_PAYMENTS_SESSION_TTL" default:"1h"`
	GracePeriod    time.Duration `envconfig:"CAMPUS_PAYMENTS_GRACE_PERIOD" default:"45s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CAMPUS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
