package config

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cron     CronConfig
	Stock    StockConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// NotifyFunction is the SQL function used to emit cron wake-ups.
	// Must be a plain identifier; "pg_notify" unless the deployment
	// routes notifications through a wrapper function.
	NotifyFunction string
}

type CronConfig struct {
	// LimitTimeReal bounds a whole worker pass, LimitTimeRealCron bounds a
	// single job execution, LimitTimeSoftCron bounds one action iteration.
	// All in seconds; zero means "use the default".
	LimitTimeReal     int
	LimitTimeRealCron int
	LimitTimeSoftCron int
}

type StockConfig struct {
	// VisibilityDays is the company-wide add-on applied on top of each
	// orderpoint's own visibility window.
	VisibilityDays int
}

type CacheConfig struct {
	Enabled            bool
	RedisURL           string
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	ForecastTTLSeconds int
}

var (
	once     sync.Once
	instance *Config
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "debug")
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("DB_HOST", "localhost")
		viper.SetDefault("DB_PORT", "5432")
		viper.SetDefault("DB_USER", "postgres")
		viper.SetDefault("DB_PASSWORD", "postgres")
		viper.SetDefault("DB_NAME", "orderpoint")
		viper.SetDefault("DB_SSLMODE", "disable")
		viper.SetDefault("DB_NOTIFY_FUNCTION", "pg_notify")
		viper.SetDefault("LIMIT_TIME_REAL", 0)
		viper.SetDefault("LIMIT_TIME_REAL_CRON", 0)
		viper.SetDefault("LIMIT_TIME_SOFT_CRON", 0)
		viper.SetDefault("STOCK_VISIBILITY_DAYS", 0)
		viper.SetDefault("CACHE_ENABLED", false)
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("CACHE_FORECAST_TTL_SECONDS", 60)

		// Read from environment variables
		viper.AutomaticEnv()

		notifyFn := viper.GetString("DB_NOTIFY_FUNCTION")
		if !identRe.MatchString(notifyFn) {
			panic(fmt.Sprintf("config: DB_NOTIFY_FUNCTION %q is not a valid SQL identifier", notifyFn))
		}

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:           viper.GetString("DB_HOST"),
				Port:           viper.GetString("DB_PORT"),
				User:           viper.GetString("DB_USER"),
				Password:       viper.GetString("DB_PASSWORD"),
				DBName:         viper.GetString("DB_NAME"),
				SSLMode:        viper.GetString("DB_SSLMODE"),
				NotifyFunction: notifyFn,
			},
			Cron: CronConfig{
				LimitTimeReal:     viper.GetInt("LIMIT_TIME_REAL"),
				LimitTimeRealCron: viper.GetInt("LIMIT_TIME_REAL_CRON"),
				LimitTimeSoftCron: viper.GetInt("LIMIT_TIME_SOFT_CRON"),
			},
			Stock: StockConfig{
				VisibilityDays: viper.GetInt("STOCK_VISIBILITY_DAYS"),
			},
			Cache: CacheConfig{
				Enabled:            viper.GetBool("CACHE_ENABLED"),
				RedisURL:           viper.GetString("REDIS_URL"),
				RedisHost:          viper.GetString("REDIS_HOST"),
				RedisPort:          viper.GetString("REDIS_PORT"),
				RedisPassword:      viper.GetString("REDIS_PASSWORD"),
				RedisDB:            viper.GetInt("REDIS_DB"),
				ForecastTTLSeconds: viper.GetInt("CACHE_FORECAST_TTL_SECONDS"),
			},
		}
	})

	return instance
}

// ConnString renders the libpq keyword/value connection string.
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// SoftLimit returns the per-pass wall clock budget for one cron worker pass.
func (c CronConfig) SoftLimit() time.Duration {
	if c.LimitTimeReal <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.LimitTimeReal) * time.Second
}

// JobLimit returns the hard per-job budget.
func (c CronConfig) JobLimit() time.Duration {
	if c.LimitTimeRealCron <= 0 {
		return 0
	}
	return time.Duration(c.LimitTimeRealCron) * time.Second
}

// IterationLimit returns the soft budget for a single action iteration.
func (c CronConfig) IterationLimit() time.Duration {
	if c.LimitTimeSoftCron <= 0 {
		return 0
	}
	return time.Duration(c.LimitTimeSoftCron) * time.Second
}
