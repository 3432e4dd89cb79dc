package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Exchange struct {
	// Owner is the only identity allowed to register price feeds and sweep
	// the treasury. Fixed for the lifetime of the node.
	Owner common.Address
	// Address is the exchange's own identity: the spender/operator that token
	// holders approve before their orders can settle.
	Address common.Address
	// FeeRate is the platform rate applied to the priced value of the
	// fulfill leg (0.01 = 1%).
	FeeRate  decimal.Decimal
	PageSize int
	// ChainID and Name feed the EIP-712 domain of signed requests.
	ChainID int64
	Name    string
}

type Storage struct {
	Path string
}

type API struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      float64 // requests per second across all clients, 0 disables
	RateBurst      int
}

type Oracle struct {
	// RPCURL selects on-chain AggregatorV3 feeds when set. Without it the
	// node prices assets from the static answers in FeedsFile.
	RPCURL      string
	FeedsFile   string
	CallTimeout time.Duration
	// MaxAge rejects on-chain answers older than this. Zero disables the
	// check.
	MaxAge time.Duration
	// BaseAsset/BaseFeed register one feed at boot, before FeedsFile.
	BaseAsset common.Address
	BaseFeed  common.Address
}

type P2P struct {
	Enabled   bool
	Listen    string
	Bootstrap []string
}

type Node struct {
	LogFile  string
	LogLevel string
	// DevFaucet exposes the minting endpoint. Never enable outside devnets.
	DevFaucet bool
}

type Config struct {
	Exchange Exchange
	Storage  Storage
	API      API
	Oracle   Oracle
	P2P      P2P
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Owner:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Address:  common.HexToAddress("0x000000000000000000000000000000000000ba27"),
			FeeRate:  decimal.RequireFromString("0.01"),
			PageSize: 25,
			ChainID:  1337,
			Name:     "HyperBarter",
		},
		Storage: Storage{Path: "data/barter.db"},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			RateLimit:      50,
			RateBurst:      100,
		},
		Oracle: Oracle{
			FeedsFile:   "feeds.yaml",
			CallTimeout: 5 * time.Second,
			// one day heartbeat plus slack
			MaxAge: 26 * time.Hour,
		},
		P2P: P2P{
			Listen: "/ip4/0.0.0.0/tcp/9000",
		},
		Node: Node{
			LogFile:  "data/node.log",
			LogLevel: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_OWNER"); common.IsHexAddress(v) {
		cfg.Exchange.Owner = common.HexToAddress(v)
	}
	if v := os.Getenv("EXCHANGE_ADDRESS"); common.IsHexAddress(v) {
		cfg.Exchange.Address = common.HexToAddress(v)
	}
	if v := os.Getenv("EXCHANGE_FEE_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil && !rate.IsNegative() {
			cfg.Exchange.FeeRate = rate
		}
	}
	if v := os.Getenv("EXCHANGE_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Exchange.PageSize = n
		}
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Exchange.ChainID = id
		}
	}

	cfg.Storage.Path = getEnv("DB_PATH", cfg.Storage.Path)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps >= 0 {
			cfg.API.RateLimit = rps
		}
	}
	if v := os.Getenv("API_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.RateBurst = n
		}
	}

	cfg.Oracle.RPCURL = getEnv("ORACLE_RPC_URL", cfg.Oracle.RPCURL)
	cfg.Oracle.FeedsFile = getEnv("ORACLE_FEEDS_FILE", cfg.Oracle.FeedsFile)
	if v := os.Getenv("ORACLE_CALL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Oracle.CallTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("ORACLE_MAX_AGE"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.Oracle.MaxAge = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("ORACLE_BASE_ASSET"); common.IsHexAddress(v) {
		cfg.Oracle.BaseAsset = common.HexToAddress(v)
	}
	if v := os.Getenv("ORACLE_BASE_FEED"); common.IsHexAddress(v) {
		cfg.Oracle.BaseFeed = common.HexToAddress(v)
	}

	cfg.P2P.Enabled = os.Getenv("P2P_ENABLED") == "true"
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = splitList(v)
	}

	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.DevFaucet = os.Getenv("DEV_FAUCET") == "true"

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
