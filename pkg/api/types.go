package api

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings of base units so 64-bit values survive JSON clients.

// ==============================
// REST Response Types
// ==============================

// SystemInfo represents the system singleton and its risk parameters
type SystemInfo struct {
	Initialized     bool     `json:"initialized"`
	Admin           string   `json:"admin"`
	StableAsset     string   `json:"stableAsset"`
	Authority       string   `json:"authority"`
	TotalCollateral string   `json:"totalCollateral"` // lamports
	TotalDebt       string   `json:"totalDebt"`       // stable base units
	Risk            RiskInfo `json:"risk"`
}

type RiskInfo struct {
	MinRatioBps             uint64 `json:"minRatioBps"`             // e.g. 15000 = 150%
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"` // e.g. 15000 = 150%
	LiquidationPenaltyBps   uint64 `json:"liquidationPenaltyBps"`
	MaxPriceAgeSec          int64  `json:"maxPriceAgeSec"`
	StableDecimals          uint32 `json:"stableDecimals"`
	CollateralDecimals      uint32 `json:"collateralDecimals"`
	FeedID                  string `json:"feedId"`
}

// VaultInfo represents one vault's raw balances
type VaultInfo struct {
	Owner       string `json:"owner"`
	Address     string `json:"address"` // derived vault record identity
	Collateral  string `json:"collateral"`
	Debt        string `json:"debt"`
	Initialized bool   `json:"initialized"`
}

// PositionInfo represents a vault priced at the latest quote
type PositionInfo struct {
	VaultInfo
	CollateralValue  string `json:"collateralValue"`            // stable base units
	RatioBps         string `json:"ratioBps"`                   // "inf" without debt
	MaxMintable      string `json:"maxMintable"`                // additional debt allowed
	LiquidationPrice string `json:"liquidationPrice,omitempty"` // per whole collateral unit
	Healthy          bool   `json:"healthy"`
	Price            int64  `json:"price"`
	Exponent         int32  `json:"exponent"`
	PriceTime        int64  `json:"priceTime"` // Unix seconds
}

// RatioInfo is returned by GET /vaults/{owner}/ratio
type RatioInfo struct {
	Owner     string `json:"owner"`
	RatioBps  string `json:"ratioBps"`
	Unbounded bool   `json:"unbounded"`
}

// LiquidationInfo represents one completed liquidation
type LiquidationInfo struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Liquidator       string `json:"liquidator"`
	CollateralSeized string `json:"collateralSeized"`
	Penalty          string `json:"penalty"`
	Payout           string `json:"payout"`
	DebtCleared      string `json:"debtCleared"`
	Price            int64  `json:"price"`
	Exponent         int32  `json:"exponent"`
	Timestamp        int64  `json:"timestamp"` // Unix milliseconds
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["system", "vault:0x..."]
}

// VaultUpdate is broadcast on "vault:{owner}" after every committed operation
type VaultUpdate struct {
	Type        string           `json:"type"` // "vault"
	EventID     string           `json:"eventId"`
	Op          string           `json:"op"` // "deposit" | "withdraw" | "mint" | "burn" | "liquidate"
	Amount      string           `json:"amount"`
	Vault       VaultInfo        `json:"vault"`
	Liquidation *LiquidationInfo `json:"liquidation,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// SystemUpdate is broadcast on "system" after every committed operation
type SystemUpdate struct {
	Type            string `json:"type"` // "system"
	EventID         string `json:"eventId"`
	Op              string `json:"op"`
	Owner           string `json:"owner"`
	TotalCollateral string `json:"totalCollateral"`
	TotalDebt       string `json:"totalDebt"`
	Timestamp       int64  `json:"timestamp"`
}

// ==============================
// REST Request Types
// ==============================

// InitializeRequest is the payload for POST /api/v1/system/initialize
type InitializeRequest struct {
	Admin string `json:"admin"`
}

// AmountRequest is the payload for deposit, withdraw, mint and burn
type AmountRequest struct {
	Amount string `json:"amount"` // decimal base units
}

// LiquidateRequest is the payload for POST /api/v1/vaults/{owner}/liquidate
type LiquidateRequest struct {
	Liquidator string `json:"liquidator"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
