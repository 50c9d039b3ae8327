package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func settledTask(id string) domain.Task {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return domain.Task{
		ID:               id,
		Requester:        "requester",
		Type:             domain.TaskInference,
		InputRef:         "ref://in",
		OutputSpec:       "json",
		Bounty:           10_000,
		Deadline:         now.Add(time.Hour),
		VerificationMode: domain.VerifyAudit,
		Status:           domain.TaskSettled,
		ClaimedBy:        "worker",
		OutputRef:        "ref://out",
		OutputHash:       "deadbeef",
		ComputeTime:      1500 * time.Millisecond,
		CreatedAt:        now,
		SubmittedAt:      now.Add(time.Minute),
		SettledAt:        now.Add(2 * time.Minute),
	}
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := db.ArchiveTask(settledTask("t1")); err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Migrations are idempotent and data survives.
	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()

	if _, err := db.ArchivedTask("t1"); err != nil {
		t.Errorf("ArchivedTask after reopen: %v", err)
	}
}

// ─── Task Archive ───────────────────────────────────────────────────────────

func TestArchiveTask_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	want := settledTask("t1")
	if err := db.ArchiveTask(want); err != nil {
		t.Fatalf("ArchiveTask() error: %v", err)
	}

	got, err := db.ArchivedTask("t1")
	if err != nil {
		t.Fatalf("ArchivedTask() error: %v", err)
	}
	if got.Status != domain.TaskSettled {
		t.Errorf("Status = %s, want SETTLED", got.Status)
	}
	if got.ClaimedBy != "worker" || got.OutputHash != "deadbeef" {
		t.Errorf("claim fields = (%q, %q), want (worker, deadbeef)", got.ClaimedBy, got.OutputHash)
	}
	if got.Bounty != 10_000 {
		t.Errorf("Bounty = %d, want 10000", got.Bounty)
	}
	if got.ComputeTime != 1500*time.Millisecond {
		t.Errorf("ComputeTime = %v, want 1.5s", got.ComputeTime)
	}
	if !got.SettledAt.Equal(want.SettledAt) {
		t.Errorf("SettledAt = %v, want %v", got.SettledAt, want.SettledAt)
	}
}

func TestArchiveTask_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	task := settledTask("t1")
	if err := db.ArchiveTask(task); err != nil {
		t.Fatal(err)
	}
	task.OutputHash = "cafef00d"
	if err := db.ArchiveTask(task); err != nil {
		t.Fatalf("re-archive error: %v", err)
	}

	got, err := db.ArchivedTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OutputHash != "cafef00d" {
		t.Errorf("OutputHash = %q, want cafef00d", got.OutputHash)
	}
	if n, _ := db.CountArchived(); n != 1 {
		t.Errorf("CountArchived = %d, want 1", n)
	}
}

func TestArchivedTask_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.ArchivedTask("missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestArchivedTasks_FilterByAccount(t *testing.T) {
	db := newTestDB(t)

	a := settledTask("t1")
	b := settledTask("t2")
	b.ClaimedBy = "other-worker"
	for _, task := range []domain.Task{a, b} {
		if err := db.ArchiveTask(task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ArchivedTasks("worker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("filtered tasks = %v, want [t1]", got)
	}

	all, err := db.ArchivedTasks("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered len = %d, want 2", len(all))
	}
}

// ─── Settlement Journal ─────────────────────────────────────────────────────

func TestAppendSettlement_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []settlement.JournalEntry{
		{Timestamp: now, Op: "DEPOSIT", Account: "alice", Amount: 50_000},
		{Timestamp: now, Op: "LOCK", Account: "alice", Amount: 10_000},
		{Timestamp: now, Op: "TRANSFER", Account: "alice", Peer: "bob", Amount: 5_000, Ref: "settle:t1"},
	}
	for _, e := range entries {
		if err := db.AppendSettlement(e); err != nil {
			t.Fatalf("AppendSettlement(%s) error: %v", e.Op, err)
		}
	}

	got, err := db.SettlementEntries("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest first
	if got[0].Op != "TRANSFER" || got[0].Peer != "bob" || got[0].Ref != "settle:t1" {
		t.Errorf("latest entry = %+v, want the transfer", got[0])
	}

	// The counterparty sees the transfer too.
	bob, err := db.SettlementEntries("bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bob) != 1 || bob[0].Op != "TRANSFER" {
		t.Errorf("bob entries = %+v, want the transfer only", bob)
	}

	if n, _ := db.CountSettlements(); n != 3 {
		t.Errorf("CountSettlements = %d, want 3", n)
	}
}

// The ledger wired to a DB journal persists every mutation.
func TestLedgerJournalIntegration(t *testing.T) {
	db := newTestDB(t)
	ledger := settlement.NewLedger(db)

	ledger.Deposit("alice", 50_000)
	if err := ledger.Lock("alice", 10_000); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Transfer("alice", "bob", 5_000, "settle:t1"); err != nil {
		t.Fatal(err)
	}

	if n, _ := db.CountSettlements(); n != 3 {
		t.Errorf("CountSettlements = %d, want 3", n)
	}
}

// ─── Node Info ──────────────────────────────────────────────────────────────

func TestNodeInfo(t *testing.T) {
	db := newTestDB(t)

	if v, err := db.GetNodeInfo("address"); err != nil || v != "" {
		t.Fatalf("GetNodeInfo(missing) = (%q, %v), want empty", v, err)
	}
	if err := db.SetNodeInfo("address", "ab12"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetNodeInfo("address", "cd34"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetNodeInfo("address"); v != "cd34" {
		t.Errorf("GetNodeInfo = %q, want cd34", v)
	}
}
