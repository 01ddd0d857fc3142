package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env             string `mapstructure:"env"`
		Build           string `mapstructure:"build"`
		Debug           bool   `mapstructure:"debug"`
		TestMode        bool   `mapstructure:"testMode"`
		AppName         string `mapstructure:"appName"`
		SecretKey       string `mapstructure:"secretKey"`
		FrontendBaseURL string `mapstructure:"frontendBaseURL"`
		FromEmail       string `mapstructure:"defaultFromEmail"`
		FromName        string `mapstructure:"defaultFromName"`
		SendgridAPIKey  string `mapstructure:"sendgridApiKey"`
		RollbarToken    string `mapstructure:"rollbarToken"`

		Log       LogConfig       `mapstructure:"log"`
		Server    ServerConfig    `mapstructure:"server"`
		Database  DatabaseConfig  `mapstructure:"database"`
		Redis     RedisConfig     `mapstructure:"redis"`
		Billing   BillingConfig   `mapstructure:"billing"`
		Scheduler SchedulerConfig `mapstructure:"scheduler"`
	}

	LogConfig struct {
		Level string `mapstructure:"level"`
	}

	ServerConfig struct {
		Address                   string        `mapstructure:"address"`
		Host                      string        `mapstructure:"host"`
		DebugHost                 string        `mapstructure:"debugHost"`
		ReadTimeout               time.Duration `mapstructure:"readTimeout"`
		WriteTimeout              time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout           time.Duration `mapstructure:"shutdownTimeout"`
		JWTExpirationDelta        time.Duration `mapstructure:"jwtExpirationDelta"`
		JWTRefreshExpirationDelta time.Duration `mapstructure:"jwtRefreshExpirationDelta"`
		PasswordResetTimeoutDelta time.Duration `mapstructure:"passwordResetTimeoutDelta"`
		LoginRateLimit            float64       `mapstructure:"loginRateLimit"` // requests per second per client
		LoginRateBurst            int           `mapstructure:"loginRateBurst"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"` // postgres | memory
		Host          string `mapstructure:"host"`
		Port          string `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
		MaxOpenConns  int    `mapstructure:"maxOpenConns"`
	}

	RedisConfig struct {
		Addr       string        `mapstructure:"addr"` // empty disables the pricing cache
		Password   string        `mapstructure:"password"`
		DB         int           `mapstructure:"db"`
		PricingTTL time.Duration `mapstructure:"pricingTTL"`
	}

	BillingConfig struct {
		Currency           string `mapstructure:"currency"`
		InvoicePrefix      string `mapstructure:"invoicePrefix"`
		InvoiceDueDays     int    `mapstructure:"invoiceDueDays"`
		AbsenceNoticeHours int    `mapstructure:"absenceNoticeHours"`
		AutoApplyCredits   bool   `mapstructure:"autoApplyCredits"`
	}

	SchedulerConfig struct {
		Enabled              bool   `mapstructure:"enabled"`
		Timezone             string `mapstructure:"timezone"`
		GenerateInvoicesSpec string `mapstructure:"generateInvoicesSpec"`
		ApplyCreditsSpec     string `mapstructure:"applyCreditsSpec"`
	}
)

func (dbc DatabaseConfig) Address() string {
	if dbc.Port == "" {
		return dbc.Host
	}
	return dbc.Host + ":" + dbc.Port
}

// Location returns the timezone lessons & jobs run in; UTC when unknown.
func (sc SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.FromName, Address: conf.FromEmail}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Cadenza")
	v.SetDefault("secretKey", "r8!t2-lq0zk#m1x=4c$vb9+e7wn)ah3(fj_u6d^yp5gs&o")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("defaultFromName", "Cadenza")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("log.level", "debug")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", "localhost:4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("server.loginRateLimit", 0.5)
	v.SetDefault("server.loginRateBurst", 5)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "cadenza")
	v.SetDefault("database.user", "cadenza")
	v.SetDefault("database.password", "cadenza")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pricingTTL", time.Hour)

	v.SetDefault("billing.currency", "EUR")
	v.SetDefault("billing.invoicePrefix", "INV")
	v.SetDefault("billing.invoiceDueDays", 14)
	v.SetDefault("billing.absenceNoticeHours", 24)
	v.SetDefault("billing.autoApplyCredits", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.generateInvoicesSpec", "0 6 1 * *")
	v.SetDefault("scheduler.applyCreditsSpec", "30 2 * * *")
}

// NewConfig loads the app configuration: defaults, then `config/.env.<env>` (if any), then env vars.
// env vars are prefixed with the environment name, eg. `DEV_DATABASE_HOST`.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	v.SetDefault("env", env)
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("database.engine", "memory")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	return conf
}

// NewTestConfig returns the defaults of a TEST environment, without reading the environment.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("env", "TEST")
	v.Set("debug", false)
	v.Set("testMode", true)
	v.Set("database.engine", "memory")

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	return conf
}
