package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdai/params"
	"github.com/uhyunpark/hyperdai/pkg/api"
	"github.com/uhyunpark/hyperdai/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdai/pkg/app/core/engine"
	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
	"github.com/uhyunpark/hyperdai/pkg/crypto"
	"github.com/uhyunpark/hyperdai/pkg/metrics"
	"github.com/uhyunpark/hyperdai/pkg/storage"
	"github.com/uhyunpark/hyperdai/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}

	// ---- Ledger ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "vaults"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	ledger, err := vault.NewLedger(store)
	if err != nil {
		sugar.Fatalw("ledger_load_failed", "err", err)
	}
	defer ledger.Close()

	journal, err := openJournal(cfg.Node.JournalFile)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalFile, "err", err)
	}
	defer journal.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Oracle ----
	var feed oracle.Feed
	if cfg.Node.OracleURL != "" {
		feed = oracle.NewHermesFeed(cfg.Node.OracleURL, cfg.Node.OracleTimeout)
		sugar.Infow("oracle_hermes", "url", cfg.Node.OracleURL, "feed", cfg.Risk.FeedID)
	} else {
		static := oracle.NewStaticFeed()
		publishStatic(static, cfg)
		go refreshStatic(ctx, static, cfg)
		feed = static
		sugar.Infow("oracle_static",
			"price", cfg.Node.StaticPrice,
			"exponent", cfg.Node.StaticExponent,
			"refresh", cfg.Node.StaticRefresh)
	}
	adapter := oracle.NewAdapter(feed, cfg.Risk.FeedID, cfg.Risk.MaxPriceAge)

	// ---- Custody ----
	bank := custody.NewBank(crypto.VaultAuthority(), crypto.StableMint(), cfg.Risk.StableDecimals)
	fundBank(sugar, bank, ledger, cfg.Node)

	// ---- Engine ----
	m := metrics.New(prometheus.DefaultRegisterer)
	eng, err := engine.New(cfg.Risk, engine.Deps{
		Ledger:     ledger,
		Oracle:     adapter,
		Collateral: bank,
		Issuer:     bank,
		Logger:     sugar,
		Metrics:    m,
		Journal:    journal,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	st := eng.SystemState()
	m.SetTotals(st.TotalCollateral, st.TotalDebt, ledger.VaultCount())
	if !st.Initialized && cfg.Node.AdminAddress != "" {
		if !common.IsHexAddress(cfg.Node.AdminAddress) {
			sugar.Fatalw("admin_address_invalid", "admin", cfg.Node.AdminAddress)
		}
		if _, err := eng.Initialize(ctx, common.HexToAddress(cfg.Node.AdminAddress)); err != nil {
			sugar.Fatalw("initialize_failed", "err", err)
		}
	}
	if err := eng.CheckInvariants(); err != nil {
		sugar.Fatalw("invariants_violated", "err", err)
	}

	sugar.Infow("node_starting",
		"initialized", eng.SystemState().Initialized,
		"vaults", ledger.VaultCount(),
		"total_collateral", st.TotalCollateral,
		"total_debt", st.TotalDebt,
		"min_ratio_bps", cfg.Risk.MinRatioBps,
		"liquidation_threshold_bps", cfg.Risk.LiquidationThresholdBps)

	// ---- API Server ----
	apiServer := api.NewServer(eng, api.Options{
		CORSOrigins: cfg.Node.CORSOrigins,
		Metrics:     metrics.Handler(prometheus.DefaultGatherer),
		Logger:      sugar,
	})

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// Status logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("node_stopping")
			return
		case <-ticker.C:
			st := eng.SystemState()
			sugar.Infow("system_status",
				"vaults", ledger.VaultCount(),
				"total_collateral", st.TotalCollateral,
				"total_debt", st.TotalDebt,
				"stable_supply", bank.StableSupply())
		}
	}
}

type journalCloser interface {
	engine.Journal
	Close() error
}

func openJournal(path string) (journalCloser, error) {
	if path == "" {
		return storage.NewNopWAL(), nil
	}
	return storage.NewFileWAL(path)
}

func publishStatic(feed *oracle.StaticFeed, cfg params.Config) {
	feed.Set(cfg.Risk.FeedID, oracle.PriceQuote{
		Price:      cfg.Node.StaticPrice,
		Exponent:   cfg.Node.StaticExponent,
		ObservedAt: time.Now(),
	})
}

// refreshStatic republishes the configured quote so it never goes stale.
func refreshStatic(ctx context.Context, feed *oracle.StaticFeed, cfg params.Config) {
	if cfg.Node.StaticRefresh <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.Node.StaticRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publishStatic(feed, cfg)
		}
	}
}

// fundBank restores custody and stable balances from the persisted ledger
// and credits devnet faucet accounts. Bank balances are not persisted.
func fundBank(log *zap.SugaredLogger, bank *custody.Bank, ledger *vault.Ledger, node params.Node) {
	st := ledger.State()
	if err := bank.Restore(st, ledger.Vaults()); err != nil {
		log.Fatalw("bank_restore_failed", "err", err)
	}
	log.Infow("bank_restored",
		"pool_collateral", bank.CollateralBalance(bank.Authority()),
		"stable_supply", bank.StableSupply())

	for _, raw := range node.FaucetAddresses {
		if !common.IsHexAddress(raw) {
			log.Warnw("faucet_address_invalid", "address", raw)
			continue
		}
		addr := common.HexToAddress(raw)
		if err := bank.Credit(addr, node.FaucetAmount); err != nil {
			log.Warnw("faucet_credit_failed", "address", addr.Hex(), "err", err)
			continue
		}
		log.Infow("faucet_credited", "address", addr.Hex(), "amount", node.FaucetAmount)
	}
}
