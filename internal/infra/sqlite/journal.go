package sqlite

import (
	"database/sql"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
)

// ─── Settlement Journal ─────────────────────────────────────────────────────

// AppendSettlement records one ledger mutation. Satisfies the
// settlement ledger's Journal contract.
func (d *DB) AppendSettlement(e settlement.JournalEntry) error {
	_, err := d.db.Exec(
		`INSERT INTO settlement_journal (timestamp, op, account, peer, amount, ref)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), e.Op, e.Account, nullStr(e.Peer), e.Amount, nullStr(e.Ref),
	)
	return err
}

// SettlementEntries returns recent journal entries for an account,
// newest first. Transfers show up for both parties.
func (d *DB) SettlementEntries(account string, limit int) ([]settlement.JournalEntry, error) {
	rows, err := d.db.Query(
		`SELECT timestamp, op, account, peer, amount, ref
		 FROM settlement_journal WHERE account = ? OR peer = ?
		 ORDER BY id DESC LIMIT ?`,
		account, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []settlement.JournalEntry
	for rows.Next() {
		var e settlement.JournalEntry
		var ts int64
		var peer, ref sql.NullString
		if err := rows.Scan(&ts, &e.Op, &e.Account, &peer, &e.Amount, &ref); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Peer = peer.String
		e.Ref = ref.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountSettlements returns the number of journaled mutations.
func (d *DB) CountSettlements() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM settlement_journal`).Scan(&n)
	return n, err
}
