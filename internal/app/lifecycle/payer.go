package lifecycle

import (
	"context"
	"fmt"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// EscrowPayer settles bounties straight from the on-ledger escrow:
// the bounty locked at post time is released and transferred to the
// worker in one idempotent settlement.
type EscrowPayer struct {
	Ledger domain.SettlementLedger
}

// PayBounty implements Payer.
func (p EscrowPayer) PayBounty(_ context.Context, taskID, requester, worker string, bounty int64) error {
	if err := p.Ledger.Unlock(requester, bounty); err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}
	if err := p.Ledger.Transfer(requester, worker, bounty, "settle:"+taskID); err != nil {
		return fmt.Errorf("pay worker: %w", err)
	}
	return nil
}
