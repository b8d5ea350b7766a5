package engine

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

// Operation names
const (
	OpInitialize = "initialize"
	OpDeposit    = "deposit"
	OpWithdraw   = "withdraw"
	OpMint       = "mint"
	OpBurn       = "burn"
	OpLiquidate  = "liquidate"
)

// Event describes one committed operation.
type Event struct {
	ID          string                   `json:"id"`
	Type        string                   `json:"type"`
	Owner       common.Address           `json:"owner"`
	Actor       common.Address           `json:"actor"` // liquidator
	Amount      uint64                   `json:"amount"`
	Vault       vault.Vault              `json:"vault"`
	State       vault.SystemState        `json:"state"`
	Liquidation *vault.LiquidationRecord `json:"liquidation,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

// Journal receives one JSON line per committed operation.
type Journal interface {
	Append(line string)
}

// OnEvent registers fn to run after every committed operation.
// Hooks run synchronously on the caller's goroutine and must not block.
func (e *Engine) OnEvent(fn func(Event)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *Engine) publish(ev Event) {
	if e.journal != nil {
		if line, err := json.Marshal(ev); err != nil {
			e.log.Errorw("journal_encode_failed", "event", ev.ID, "error", err)
		} else {
			e.journal.Append(string(line))
		}
	}

	e.hooksMu.RLock()
	hooks := make([]func(Event), len(e.hooks))
	copy(hooks, e.hooks)
	e.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(ev)
	}
}
