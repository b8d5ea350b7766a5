package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SOLUSDFeedID is the Pyth SOL/USD price feed identifier.
const SOLUSDFeedID = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

type Risk struct {
	// MaxPriceAge is the oldest quote accepted by any price-gated operation.
	MaxPriceAge time.Duration

	// MinRatioBps gates Mint: collateralValue * 10000 >= newDebt * MinRatioBps
	// Example: 15000 = 150%
	MinRatioBps uint64

	// LiquidationThresholdBps opens Liquidate:
	// collateralValue < debt * LiquidationThresholdBps / 10000
	LiquidationThresholdBps uint64

	// LiquidationPenaltyBps is the share of seized collateral kept by the
	// custody pool instead of paid to the liquidator. 0 = full transfer.
	LiquidationPenaltyBps uint64

	StableDecimals     uint32 // pegged asset precision (6 = micro-dollars)
	CollateralDecimals uint32 // collateral precision (9 = lamports)

	FeedID string
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	JournalFile string
	CORSOrigins []string

	LogLevel string

	// OracleURL selects the Hermes price feed; empty keeps the static feed.
	OracleURL     string
	OracleTimeout time.Duration

	// Static feed quote, republished every StaticRefresh (devnet only).
	StaticPrice    int64
	StaticExponent int32
	StaticRefresh  time.Duration

	// FaucetAddresses are credited FaucetAmount collateral at boot (devnet only).
	FaucetAddresses []string
	FaucetAmount    uint64

	// AdminAddress initializes the system at boot when set.
	AdminAddress string
}

type Config struct {
	Risk Risk
	Node Node
}

func Default() Config {
	return Config{
		Risk: Risk{
			MaxPriceAge:             60 * time.Second,
			MinRatioBps:             15000,
			LiquidationThresholdBps: 15000,
			LiquidationPenaltyBps:   0,
			StableDecimals:          6,
			CollateralDecimals:      9,
			FeedID:                  SOLUSDFeedID,
		},
		Node: Node{
			DataDir:        "data",
			APIAddr:        ":8080",
			LogFile:        "data/node.log",
			JournalFile:    "data/journal.log",
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:3001"},
			LogLevel:       "info",
			OracleTimeout:  3 * time.Second,
			StaticPrice:    100_00000000, // $100.00
			StaticExponent: -8,
			StaticRefresh:  10 * time.Second,
			FaucetAmount:   1000_000_000_000, // 1000 SOL
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

	if v, ok := envUint("CDP_MAX_PRICE_AGE_SEC"); ok {
		cfg.Risk.MaxPriceAge = time.Duration(v) * time.Second
	}
	if v, ok := envUint("CDP_MIN_RATIO_BPS"); ok {
		cfg.Risk.MinRatioBps = v
	}
	if v, ok := envUint("CDP_LIQUIDATION_THRESHOLD_BPS"); ok {
		cfg.Risk.LiquidationThresholdBps = v
	}
	if v, ok := envUint("CDP_LIQUIDATION_PENALTY_BPS"); ok {
		cfg.Risk.LiquidationPenaltyBps = v
	}
	if v, ok := envUint("CDP_STABLE_DECIMALS"); ok {
		cfg.Risk.StableDecimals = uint32(v)
	}
	if v, ok := envUint("CDP_COLLATERAL_DECIMALS"); ok {
		cfg.Risk.CollateralDecimals = uint32(v)
	}
	cfg.Risk.FeedID = getEnv("CDP_FEED_ID", cfg.Risk.FeedID)

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.JournalFile = getEnv("JOURNAL_FILE", cfg.Node.JournalFile)
	cfg.Node.OracleURL = getEnv("ORACLE_URL", cfg.Node.OracleURL)
	cfg.Node.AdminAddress = getEnv("ADMIN_ADDRESS", cfg.Node.AdminAddress)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	if v, err := strconv.ParseInt(os.Getenv("STATIC_PRICE"), 10, 64); err == nil {
		cfg.Node.StaticPrice = v
	}
	if v, err := strconv.ParseInt(os.Getenv("STATIC_EXPONENT"), 10, 32); err == nil {
		cfg.Node.StaticExponent = int32(v)
	}
	if v, ok := envUint("STATIC_REFRESH_SEC"); ok {
		cfg.Node.StaticRefresh = time.Duration(v) * time.Second
	}
	if v, ok := envUint("FAUCET_AMOUNT"); ok {
		cfg.Node.FaucetAmount = v
	}
	cfg.Node.FaucetAddresses = splitList(os.Getenv("FAUCET_ADDRESSES"), cfg.Node.FaucetAddresses)

	if ms, ok := envUint("ORACLE_TIMEOUT_MS"); ok {
		cfg.Node.OracleTimeout = time.Duration(ms) * time.Millisecond
	}

	// Example: "http://localhost:3000,https://app.example.org"
	cfg.Node.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"), cfg.Node.CORSOrigins)

	return cfg
}

// Validate rejects configurations the node cannot run with.
func (c Config) Validate() error {
	return c.Risk.Validate()
}

// Validate rejects risk parameters the engine cannot operate under.
func (r Risk) Validate() error {
	if r.MaxPriceAge <= 0 {
		return fmt.Errorf("max price age must be positive: %s", r.MaxPriceAge)
	}
	if r.MinRatioBps < 10000 {
		return fmt.Errorf("min ratio %d bps is below 100%%", r.MinRatioBps)
	}
	if r.LiquidationThresholdBps < 10000 {
		return fmt.Errorf("liquidation threshold %d bps is below 100%%", r.LiquidationThresholdBps)
	}
	if r.LiquidationPenaltyBps > 10000 {
		return fmt.Errorf("liquidation penalty %d bps exceeds 100%%", r.LiquidationPenaltyBps)
	}
	if r.StableDecimals == 0 || r.CollateralDecimals == 0 {
		return fmt.Errorf("decimals must be non-zero: stable=%d collateral=%d", r.StableDecimals, r.CollateralDecimals)
	}
	if r.CollateralDecimals > 19 {
		return fmt.Errorf("collateral decimals %d do not fit a u64 unit", r.CollateralDecimals)
	}
	if strings.TrimSpace(r.FeedID) == "" {
		return fmt.Errorf("feed id must be set")
	}
	return nil
}

// UnitsPerCollateral returns 10^CollateralDecimals.
func (r Risk) UnitsPerCollateral() uint64 {
	units := uint64(1)
	for i := uint32(0); i < r.CollateralDecimals; i++ {
		units *= 10
	}
	return units
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma separated list, keeping def when raw is empty
func splitList(raw string, def []string) []string {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envUint(key string) (uint64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
