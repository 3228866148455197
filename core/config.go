package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		PasswordResetTimeoutDelta time.Duration

		Server    ServerConfig
		Database  DatabaseConfig
		Billing   BillingConfig
		Documents DocumentsConfig
		Outbox    OutboxConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		MaxUploadSize             string        // echo body limit notation, eg. "10M"
		JobsInterval              time.Duration // lease sweeps & revoked tokens purge; disabled when 0
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// BillingConfig holds the rent billing policy defaults.
	BillingConfig struct {
		Currency       string
		DueDay         int // day of month; clamped to the month's last day
		GraceDays      int
		LateFeeFlat    decimal.Decimal
		LateFeePercent decimal.Decimal // of the bill's rent lines
	}

	DocumentsConfig struct {
		Backend    string // "local" | "s3"
		LocalDir   string
		Bucket     string
		Region     string
		Endpoint   string // optional, for S3 compatible stores (minio..)
		URLExpires time.Duration

		// static credentials; the default AWS chain is used when empty
		AccessKeyID     string
		SecretAccessKey string
	}

	OutboxConfig struct {
		ReplayInterval time.Duration
		MaxAttempts    int
		MaxBackoff     time.Duration // cap on the delay between two attempts at an email
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (c *Config) SetDefaultFromEmail(email string) {
	c.defaultFromEmail = email
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig loads the configuration of the current ENV.
// Values are read from the environment (prefixed by ENV, eg. PROD_SECRETKEY) after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Nyumba")
	v.SetDefault("secretKey", "n7c!x2l$5z#kq9-w@u0e(8rb%d^f)3yv+m&hj_t1o=ga4s6pi")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("serverHost", "")
	v.SetDefault("serverPort", "8000")
	v.SetDefault("serverDebugHost", "0.0.0.0:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("maxUploadSize", "10M")
	v.SetDefault("serverJobsInterval", time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "nyumba")
	v.SetDefault("dbUser", "nyumba")
	v.SetDefault("dbPassword", "nyumba")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("billingCurrency", "USD")
	v.SetDefault("billingDueDay", 1)
	v.SetDefault("billingGraceDays", 5)
	v.SetDefault("billingLateFeeFlat", "50")
	v.SetDefault("billingLateFeePercent", "0")

	v.SetDefault("documentsBackend", "local")
	v.SetDefault("documentsLocalDir", filepath.Join(os.TempDir(), "nyumba-documents"))
	v.SetDefault("documentsBucket", "")
	v.SetDefault("documentsRegion", "us-east-1")
	v.SetDefault("documentsEndpoint", "")
	v.SetDefault("documentsURLExpires", 15*time.Minute)
	v.SetDefault("documentsAccessKeyID", "")
	v.SetDefault("documentsSecretAccessKey", "")

	v.SetDefault("outboxReplayInterval", 5*time.Minute)
	v.SetDefault("outboxMaxBackoff", 6*time.Hour)
	v.SetDefault("outboxMaxAttempts", 10)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Port:                      v.GetString("serverPort"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			MaxUploadSize:             v.GetString("maxUploadSize"),
			JobsInterval:              v.GetDuration("serverJobsInterval"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Billing: BillingConfig{
			Currency:       v.GetString("billingCurrency"),
			DueDay:         v.GetInt("billingDueDay"),
			GraceDays:      v.GetInt("billingGraceDays"),
			LateFeeFlat:    mustDecimal("billingLateFeeFlat", v.GetString("billingLateFeeFlat")),
			LateFeePercent: mustDecimal("billingLateFeePercent", v.GetString("billingLateFeePercent")),
		},
		Documents: DocumentsConfig{
			Backend:    v.GetString("documentsBackend"),
			LocalDir:   v.GetString("documentsLocalDir"),
			Bucket:     v.GetString("documentsBucket"),
			Region:     v.GetString("documentsRegion"),
			Endpoint:   v.GetString("documentsEndpoint"),
			URLExpires: v.GetDuration("documentsURLExpires"),

			AccessKeyID:     v.GetString("documentsAccessKeyID"),
			SecretAccessKey: v.GetString("documentsSecretAccessKey"),
		},
		Outbox: OutboxConfig{
			ReplayInterval: v.GetDuration("outboxReplayInterval"),
			MaxAttempts:    v.GetInt("outboxMaxAttempts"),
			MaxBackoff:     v.GetDuration("outboxMaxBackoff"),
		},
	}
	return conf
}

func mustDecimal(key, val string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(val))
	if err != nil {
		log.Fatalf("config.%s: %v", key, fmt.Errorf("invalid decimal %s: %w", strconv.Quote(val), err))
	}
	return d
}
