package channel

import (
	"context"
	"fmt"
	"log"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// FindOpen returns the ID of an open channel linking the two
// addresses, in either participant order.
func (m *Manager) FindOpen(a, b string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, cs := range m.channels {
		cs.mu.Lock()
		match := cs.ch.Status == domain.ChannelOpen &&
			((cs.ch.ParticipantA == a && cs.ch.ParticipantB == b) ||
				(cs.ch.ParticipantA == b && cs.ch.ParticipantB == a))
		cs.mu.Unlock()
		if match {
			return id, true
		}
	}
	return "", false
}

// BountyPayer settles task bounties off-chain whenever an open channel
// links requester and worker — the bounty moves as a signed channel
// update and the on-ledger escrow returns to the requester untouched.
// Pairs without a channel settle from escrow directly.
type BountyPayer struct {
	Channels *Manager
	Ledger   domain.SettlementLedger
}

// PayBounty implements the lifecycle manager's Payer contract.
func (p BountyPayer) PayBounty(ctx context.Context, taskID, requester, worker string, bounty int64) error {
	if id, ok := p.Channels.FindOpen(requester, worker); ok {
		ch, err := p.Channels.Get(id)
		if err == nil {
			fromA := ch.ParticipantA == requester
			if _, err := p.Channels.Update(ctx, id, bounty, fromA); err == nil {
				// Paid off-chain; the escrow lock comes back whole.
				return p.Ledger.Unlock(requester, bounty)
			}
			log.Printf("[channel] off-chain bounty for %s failed, settling from escrow: %v", taskID, err)
		}
	}

	if err := p.Ledger.Unlock(requester, bounty); err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}
	if err := p.Ledger.Transfer(requester, worker, bounty, "settle:"+taskID); err != nil {
		return fmt.Errorf("pay worker: %w", err)
	}
	return nil
}
