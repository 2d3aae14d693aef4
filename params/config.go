package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	ListenAddr string
	// MaxDepth caps how many aggregate levels an order book query may
	// request.
	MaxDepth int
	// TradeLimit caps how many trades a history query may request.
	TradeLimit int
}

type Exchange struct {
	// QuoteAsset is the settlement currency every instrument trades
	// against.
	QuoteAsset string
	// LockWait bounds how long a command waits for an instrument's book
	// lock before failing as busy.
	//
	// Recommended values:
	//   - Interactive API traffic: 250ms (fail fast, let the client retry)
	//   - Batch/backfill tooling:  2s or more
	LockWait time.Duration
}

type Storage struct {
	DataDir string
	LogPath string
}

type Config struct {
	Server   Server
	Exchange Exchange
	Storage  Storage
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr: ":8080",
			MaxDepth:   100,
			TradeLimit: 500,
		},
		Exchange: Exchange{
			QuoteAsset: "USD",
			LockWait:   250 * time.Millisecond,
		},
		Storage: Storage{
			DataDir: "data",
			LogPath: "",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Exchange.QuoteAsset = getEnv("QUOTE_ASSET", cfg.Exchange.QuoteAsset)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.LogPath = getEnv("LOG_PATH", cfg.Storage.LogPath)

	if wait := os.Getenv("LOCK_WAIT_MS"); wait != "" {
		if ms, err := strconv.Atoi(wait); err == nil {
			cfg.Exchange.LockWait = time.Duration(ms) * time.Millisecond
		}
	}
	if depth := os.Getenv("MAX_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil && n > 0 {
			cfg.Server.MaxDepth = n
		}
	}
	if limit := os.Getenv("TRADE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Server.TradeLimit = n
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
