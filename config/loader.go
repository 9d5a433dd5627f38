package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Extract   ExtractConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Env       string
}

type ExtractConfig struct {
	Backoff BackoffConfig
}

type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

type DatabaseConfig struct {
	// Driver selects the sink: "duckdb" (default) or "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the DuckDB database file; empty or ":memory:" for in-memory.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string. Assembled from the
	// PERSEVERA_DB_* environment variables when left empty.
	DSN string `mapstructure:"dsn"`
	// InitQueries are SQL files executed right after the connection opens.
	InitQueries []string `mapstructure:"init_queries"`
}

type ProvidersConfig struct {
	StartDate string       `mapstructure:"start_date"`
	SGS       SGSConfig    `mapstructure:"sgs"`
	Fred      FredConfig   `mapstructure:"fred"`
	Sidra     SidraConfig  `mapstructure:"sidra"`
	B3        B3Config     `mapstructure:"b3"`
	Anbima    AnbimaConfig `mapstructure:"anbima"`
	CVM       CVMConfig    `mapstructure:"cvm"`
}

type SGSConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type FredConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// APIKey is overridden by PERSEVERA_FRED_API_KEY when set.
	APIKey string `mapstructure:"api_key"`
}

type SidraConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Tables maps SIDRA table codes to human-readable descriptions.
	Tables map[string]string `mapstructure:"tables"`
}

type B3Config struct {
	BaseURL string `mapstructure:"base_url"`
	// Periods is the default number of business days to fetch.
	Periods int `mapstructure:"periods"`
	// Workers bounds the per-day fetch fan-out.
	Workers int `mapstructure:"workers"`
}

type AnbimaConfig struct {
	// Indexes maps index names to their CSV download URLs.
	Indexes map[string]string `mapstructure:"indexes"`
}

type CVMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	StartDate string `mapstructure:"start_date"`
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration. Environment
// variables take precedence for credentials and connection settings.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" { // Use the provided 'env' or default to "dev"
		env = "dev"
	}

	viper.SetConfigType("yaml")

	// Read the base configuration
	if err := viper.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := viper.MergeConfig(envConfigReader); err != nil {
			log.Printf("Error merging environment-specific config: %s", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.Env = env
	config.applyEnv()
	config.setDefaults()

	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PERSEVERA_FRED_API_KEY"); v != "" {
		c.Providers.Fred.APIKey = v
	}
	if c.Database.DSN == "" {
		c.Database.DSN = dsnFromEnv()
	}
}

func dsnFromEnv() string {
	host := os.Getenv("PERSEVERA_DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("PERSEVERA_DB_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("PERSEVERA_DB_USER"),
		os.Getenv("PERSEVERA_DB_PASSWORD"),
		host,
		port,
		os.Getenv("PERSEVERA_DB_NAME"),
	)
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "duckdb"
	}
	if c.Providers.StartDate == "" {
		c.Providers.StartDate = "1980-01-01"
	}
	if c.Providers.SGS.BaseURL == "" {
		c.Providers.SGS.BaseURL = "https://api.bcb.gov.br"
	}
	if c.Providers.Fred.BaseURL == "" {
		c.Providers.Fred.BaseURL = "https://api.stlouisfed.org"
	}
	if c.Providers.Sidra.BaseURL == "" {
		c.Providers.Sidra.BaseURL = "https://apisidra.ibge.gov.br"
	}
	if len(c.Providers.Sidra.Tables) == 0 {
		c.Providers.Sidra.Tables = map[string]string{
			"1737": "IPCA historical index",
			"118":  "Seasonally adjusted IPCA",
			"6381": "Unemployment rate",
			"3065": "IPCA-15",
		}
	}
	if c.Providers.B3.BaseURL == "" {
		c.Providers.B3.BaseURL = "https://arquivos.b3.com.br"
	}
	if c.Providers.B3.Periods == 0 {
		c.Providers.B3.Periods = 30
	}
	if c.Providers.B3.Workers == 0 {
		c.Providers.B3.Workers = 10
	}
	if c.Providers.CVM.BaseURL == "" {
		c.Providers.CVM.BaseURL = "https://dados.cvm.gov.br/dados/FI"
	}
	if c.Providers.CVM.StartDate == "" {
		c.Providers.CVM.StartDate = "2023-01-01"
	}
}
