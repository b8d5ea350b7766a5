package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdai/pkg/app/core/engine"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
	"github.com/uhyunpark/hyperdai/pkg/crypto"
)

const defaultHistoryLimit = 50

type Options struct {
	CORSOrigins []string
	Metrics     http.Handler // served on /metrics when set
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	eng     *engine.Engine
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	metrics http.Handler
	origins []string
}

// NewServer creates an API server and subscribes it to engine events
func NewServer(eng *engine.Engine, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		eng:     eng,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
		metrics: opts.Metrics,
		origins: opts.CORSOrigins,
	}

	s.setupRoutes()
	eng.OnEvent(s.broadcastEvent)
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// System endpoints
	api.HandleFunc("/system", s.handleGetSystem).Methods("GET")
	api.HandleFunc("/system/initialize", s.handleInitialize).Methods("POST")

	// Vault endpoints
	api.HandleFunc("/vaults/{owner}", s.handleGetVault).Methods("GET")
	api.HandleFunc("/vaults/{owner}/position", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/vaults/{owner}/ratio", s.handleGetRatio).Methods("GET")
	api.HandleFunc("/vaults/{owner}/deposit", s.amountHandler(s.eng.Deposit)).Methods("POST")
	api.HandleFunc("/vaults/{owner}/withdraw", s.amountHandler(s.eng.Withdraw)).Methods("POST")
	api.HandleFunc("/vaults/{owner}/mint", s.amountHandler(s.eng.Mint)).Methods("POST")
	api.HandleFunc("/vaults/{owner}/burn", s.amountHandler(s.eng.Burn)).Methods("POST")
	api.HandleFunc("/vaults/{owner}/liquidate", s.handleLiquidate).Methods("POST")

	// Liquidation endpoints
	api.HandleFunc("/liquidations", s.handleGetLiquidations).Methods("GET")
	api.HandleFunc("/liquidatable", s.handleGetLiquidatable).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	st := s.eng.SystemState()
	risk := s.eng.Risk()

	respondJSON(w, SystemInfo{
		Initialized:     st.Initialized,
		Admin:           st.Admin.Hex(),
		StableAsset:     st.StableAsset.Hex(),
		Authority:       st.Authority.Hex(),
		TotalCollateral: u64(st.TotalCollateral),
		TotalDebt:       u64(st.TotalDebt),
		Risk: RiskInfo{
			MinRatioBps:             risk.MinRatioBps,
			LiquidationThresholdBps: risk.LiquidationThresholdBps,
			LiquidationPenaltyBps:   risk.LiquidationPenaltyBps,
			MaxPriceAgeSec:          int64(risk.MaxPriceAge / time.Second),
			StableDecimals:          risk.StableDecimals,
			CollateralDecimals:      risk.CollateralDecimals,
			FeedID:                  risk.FeedID,
		},
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	admin, ok := parseAddress(req.Admin)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", req.Admin)
		return
	}

	if _, err := s.eng.Initialize(r.Context(), admin); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.handleGetSystem(w, r)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	v, err := s.eng.Vault(owner)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toVaultInfo(v))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	p, err := s.eng.Position(r.Context(), owner)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toPositionInfo(p))
}

func (s *Server) handleGetRatio(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	ratio, err := s.eng.CollateralRatio(r.Context(), owner)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, RatioInfo{
		Owner:     owner.Hex(),
		RatioBps:  ratio.String(),
		Unbounded: ratio.Unbounded,
	})
}

type amountOp func(ctx context.Context, owner common.Address, amount uint64) (vault.Vault, error)

// amountHandler serves deposit, withdraw, mint and burn
func (s *Server) amountHandler(op amountOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromPath(w, r)
		if !ok {
			return
		}

		var req AmountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(req.Amount), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
			return
		}

		v, err := op(r.Context(), owner, amount)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		respondJSON(w, toVaultInfo(v))
	}
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}

	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	liquidator, ok := parseAddress(req.Liquidator)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", req.Liquidator)
		return
	}

	rec, err := s.eng.Liquidate(r.Context(), liquidator, owner)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toLiquidationInfo(rec))
}

func (s *Server) handleGetLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}

	recs, err := s.eng.LiquidationHistory(limit)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	out := make([]LiquidationInfo, len(recs))
	for i, rec := range recs {
		out[i] = toLiquidationInfo(rec)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetLiquidatable(w http.ResponseWriter, r *http.Request) {
	positions, err := s.eng.Liquidatable(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	out := make([]PositionInfo, len(positions))
	for i, p := range positions {
		out[i] = toPositionInfo(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.CheckInvariants(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "invariant violated", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the engine)
// ==============================

func (s *Server) broadcastEvent(ev engine.Event) {
	ts := ev.Timestamp.UnixMilli()

	if ev.Type != engine.OpInitialize {
		update := VaultUpdate{
			Type:      "vault",
			EventID:   ev.ID,
			Op:        ev.Type,
			Amount:    u64(ev.Amount),
			Vault:     toVaultInfo(ev.Vault),
			Timestamp: ts,
		}
		if ev.Liquidation != nil {
			info := toLiquidationInfo(*ev.Liquidation)
			update.Liquidation = &info
		}
		s.hub.BroadcastToChannel(vaultChannel(ev.Owner), update)
	}

	s.hub.BroadcastToChannel("system", SystemUpdate{
		Type:            "system",
		EventID:         ev.ID,
		Op:              ev.Type,
		Owner:           ev.Owner.Hex(),
		TotalCollateral: u64(ev.State.TotalCollateral),
		TotalDebt:       u64(ev.State.TotalDebt),
		Timestamp:       ts,
	})
}

func vaultChannel(owner common.Address) string {
	return "vault:" + owner.Hex()
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps an engine error kind to an HTTP status
func statusFor(kind string) int {
	switch kind {
	case "VaultNotInitialized":
		return http.StatusNotFound
	case "HasOutstandingDebt", "OverCollateralRatio", "AlreadyInitialized", "NotInitialized":
		return http.StatusConflict
	case "BelowCollateralRatio", "InsufficientCollateral", "InsufficientDebt", "InsufficientFunds", "MathOverflow":
		return http.StatusUnprocessableEntity
	case "PriceStale", "PriceFeedNotFound", "InvalidPrice":
		return http.StatusServiceUnavailable
	case "InvalidAmount", "InvalidAddress":
		return http.StatusBadRequest
	case "Unauthorized":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	kind := engine.ErrorKind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.log.Errorw("api_internal_error", "error", err)
	}
	respondError(w, status, kind, err.Error())
}

func ownerFromPath(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["owner"]
	owner, ok := parseAddress(raw)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
	}
	return owner, ok
}

func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func toVaultInfo(v vault.Vault) VaultInfo {
	return VaultInfo{
		Owner:       v.Owner.Hex(),
		Address:     crypto.VaultAddress(v.Owner).Hex(),
		Collateral:  u64(v.Collateral),
		Debt:        u64(v.Debt),
		Initialized: v.Initialized,
	}
}

func toPositionInfo(p engine.Position) PositionInfo {
	info := PositionInfo{
		VaultInfo: VaultInfo{
			Owner:       p.Owner.Hex(),
			Address:     crypto.VaultAddress(p.Owner).Hex(),
			Collateral:  u64(p.Collateral),
			Debt:        u64(p.Debt),
			Initialized: true,
		},
		CollateralValue: p.CollateralValue.Dec(),
		RatioBps:        p.Ratio.String(),
		MaxMintable:     u64(p.MaxMintable),
		Healthy:         p.Healthy,
		Price:           p.Quote.Price,
		Exponent:        p.Quote.Exponent,
		PriceTime:       p.Quote.ObservedAt.Unix(),
	}
	if p.LiquidationPrice != nil {
		info.LiquidationPrice = p.LiquidationPrice.Dec()
	}
	return info
}

func toLiquidationInfo(rec vault.LiquidationRecord) LiquidationInfo {
	return LiquidationInfo{
		ID:               rec.ID,
		Owner:            rec.Owner.Hex(),
		Liquidator:       rec.Liquidator.Hex(),
		CollateralSeized: u64(rec.CollateralSeized),
		Penalty:          u64(rec.Penalty),
		Payout:           u64(rec.Payout),
		DebtCleared:      u64(rec.DebtCleared),
		Price:            rec.Price,
		Exponent:         rec.Exponent,
		Timestamp:        time.Unix(0, rec.Timestamp).UnixMilli(),
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
