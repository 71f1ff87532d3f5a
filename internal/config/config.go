package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
	Cache    Cache    `mapstructure:"cache"`
	Market   Market   `mapstructure:"market"`
	News     News     `mapstructure:"news"`
	Chain    Chain    `mapstructure:"chain"`
	Vault    Vault    `mapstructure:"vault"`
	Custody  Custody  `mapstructure:"custody"`
	Agent    Agent    `mapstructure:"agent"`
	Trading  Trading  `mapstructure:"trading"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port           int           `mapstructure:"port"`
	Production     bool          `mapstructure:"production"`
	StaticDir      string        `mapstructure:"static_dir"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PriceWarmEvery time.Duration `mapstructure:"price_warm_every"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // optional extra output path
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// Cache selects the backend for the indicator and fundamentals caches.
type Cache struct {
	Backend string `mapstructure:"backend"` // "memory" or "redis"
	Redis   Redis  `mapstructure:"redis"`
}

// Redis holds the connection settings for the redis cache backend.
type Redis struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Market holds the upstream market-data providers and cache windows.
type Market struct {
	CoinGeckoURL   string        `mapstructure:"coingecko_url"`
	TaapiURL       string        `mapstructure:"taapi_url"`
	TaapiKey       string        `mapstructure:"taapi_key"`
	BirdeyeURL     string        `mapstructure:"birdeye_url"`
	BirdeyeKey     string        `mapstructure:"birdeye_key"`
	CoinGlassURL   string        `mapstructure:"coinglass_url"`
	CoinGlassKey   string        `mapstructure:"coinglass_key"`
	Exchange       string        `mapstructure:"exchange"`
	QuoteCurrency  string        `mapstructure:"quote_currency"`
	Interval       string        `mapstructure:"interval"`
	PriceFreshness time.Duration `mapstructure:"price_freshness"`
	IndicatorTTL   time.Duration `mapstructure:"indicator_ttl"`
	CacheSize      int           `mapstructure:"cache_size"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// News holds the configuration for the news-search provider.
type News struct {
	TavilyURL  string `mapstructure:"tavily_url"`
	TavilyKey  string `mapstructure:"tavily_key"`
	Days       int    `mapstructure:"days"`
	MaxResults int    `mapstructure:"max_results"`
}

// Chain holds the EVM connection and the trade registry contract settings.
type Chain struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	RegistryAddress string        `mapstructure:"registry_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	MaxFeeGwei      float64       `mapstructure:"max_fee_gwei"`
	TipGwei         float64       `mapstructure:"tip_gwei"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Vault holds the settings for reading the signing key from HashiCorp Vault.
type Vault struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
	Field   string `mapstructure:"field"`
}

// Custody holds the settings for the agent wallet provider.
type Custody struct {
	// EncryptionKey is a hex encoded 32 byte key used to seal credential blobs.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// Agent holds the configuration for the conversational agent runtime.
type Agent struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

// Trading holds the configuration for settlement accounting.
type Trading struct {
	SettlementCurrency string  `mapstructure:"settlement_currency"`
	FallbackRateUSD    float64 `mapstructure:"fallback_rate_usd"`
	ScaleDecimals      int32   `mapstructure:"scale_decimals"`
}

// legacyEnv maps config keys to the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"chain.private_key":    "PRIVATE_KEY",
	"market.taapi_key":     "TAAPI_API_KEY",
	"market.birdeye_key":   "BIRDEYE_API_KEY",
	"market.coinglass_key": "COINGLASS_API_KEY",
	"news.tavily_key":      "TAVILY_API_KEY",
	"agent.api_key":        "OPENAI_API_KEY",
	"database.dsn":         "DATABASE_URL",
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error: defaults and the environment are enough to boot.
func LoadConfig(path string) (config Config, err error) {
	// Pick up a local .env if there is one
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range legacyEnv {
		if err = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return
		}
	}

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.production", false)
	v.SetDefault("server.static_dir", "../frontend/build")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.price_warm_every", time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "quant_agent.db")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "quant-agent")

	v.SetDefault("market.coingecko_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.taapi_url", "https://api.taapi.io")
	v.SetDefault("market.taapi_key", "")
	v.SetDefault("market.birdeye_url", "https://public-api.birdeye.so")
	v.SetDefault("market.birdeye_key", "")
	v.SetDefault("market.coinglass_url", "https://open-api-v4.coinglass.com")
	v.SetDefault("market.coinglass_key", "")
	v.SetDefault("market.exchange", "binance")
	v.SetDefault("market.quote_currency", "USDT")
	v.SetDefault("market.interval", "1h")
	v.SetDefault("market.price_freshness", 60*time.Second)
	v.SetDefault("market.indicator_ttl", 60*time.Second)
	v.SetDefault("market.cache_size", 100)
	v.SetDefault("market.rate_limit", 5)      // requests per second
	v.SetDefault("market.rate_limit_burst", 3) // burst size
	v.SetDefault("market.timeout", 5*time.Second)

	v.SetDefault("news.tavily_url", "https://api.tavily.com")
	v.SetDefault("news.tavily_key", "")
	v.SetDefault("news.days", 2)
	v.SetDefault("news.max_results", 2)

	v.SetDefault("chain.rpc_url", "https://sepolia.base.org")
	v.SetDefault("chain.chain_id", 84532)
	v.SetDefault("chain.registry_address", "0xBc4CaeBadB2405f23f8B7D0A2d0387eD6c003fcc")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.gas_limit", 500000)
	v.SetDefault("chain.max_fee_gwei", 3)
	v.SetDefault("chain.tip_gwei", 1.5)
	v.SetDefault("chain.timeout", 15*time.Second)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://127.0.0.1:8200")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.path", "secret/data/quant-agent/signer")
	v.SetDefault("vault.field", "private_key")

	v.SetDefault("custody.encryption_key", "")

	v.SetDefault("agent.provider", "openai")
	v.SetDefault("agent.base_url", "https://api.openai.com/v1")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.model", "gpt-4o-mini")
	v.SetDefault("agent.temperature", 0.1)
	v.SetDefault("agent.max_tool_rounds", 6)
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.session_ttl", 24*time.Hour)
	v.SetDefault("agent.max_sessions", 1000)

	v.SetDefault("trading.settlement_currency", "ETH")
	v.SetDefault("trading.fallback_rate_usd", 3300.0)
	v.SetDefault("trading.scale_decimals", 18)
}
