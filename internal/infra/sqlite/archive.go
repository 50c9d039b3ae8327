package sqlite

import (
	"database/sql"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// ─── Task Archive ───────────────────────────────────────────────────────────

// ArchiveTask persists a terminal task. Satisfies the lifecycle
// manager's Archiver contract; re-archiving the same task overwrites
// the previous row, so a retried settlement sweep is harmless.
func (d *DB) ArchiveTask(t domain.Task) error {
	_, err := d.db.Exec(
		`INSERT INTO archived_tasks (id, requester, type, status, input_ref, output_spec, bounty,
			deadline, verify_mode, claimed_by, output_ref, output_hash, compute_ms,
			created_at, submitted_at, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			claimed_by=excluded.claimed_by,
			output_ref=excluded.output_ref,
			output_hash=excluded.output_hash,
			compute_ms=excluded.compute_ms,
			submitted_at=excluded.submitted_at,
			settled_at=excluded.settled_at`,
		t.ID, t.Requester, string(t.Type), string(t.Status), t.InputRef, t.OutputSpec, t.Bounty,
		t.Deadline.Unix(), string(t.VerificationMode), nullStr(t.ClaimedBy),
		nullStr(t.OutputRef), nullStr(t.OutputHash), t.ComputeTime.Milliseconds(),
		t.CreatedAt.Unix(), nullableUnix(t.SubmittedAt), nullableUnix(t.SettledAt),
	)
	return err
}

// ArchivedTask retrieves one archived task by ID.
func (d *DB) ArchivedTask(id string) (*domain.Task, error) {
	row := d.db.QueryRow(
		`SELECT id, requester, type, status, input_ref, output_spec, bounty,
			deadline, verify_mode, claimed_by, output_ref, output_hash, compute_ms,
			created_at, submitted_at, settled_at
		 FROM archived_tasks WHERE id = ?`, id,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

// ArchivedTasks returns the most recently settled tasks, newest first.
// account filters by requester or worker; empty returns all.
func (d *DB) ArchivedTasks(account string, limit int) ([]domain.Task, error) {
	query := `SELECT id, requester, type, status, input_ref, output_spec, bounty,
			deadline, verify_mode, claimed_by, output_ref, output_hash, compute_ms,
			created_at, submitted_at, settled_at
		 FROM archived_tasks`
	args := []any{}
	if account != "" {
		query += ` WHERE requester = ? OR claimed_by = ?`
		args = append(args, account, account)
	}
	query += ` ORDER BY settled_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CountArchived returns the number of archived tasks.
func (d *DB) CountArchived() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM archived_tasks`).Scan(&n)
	return n, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var taskType, status, verifyMode string
	var deadline, createdAt, computeMS int64
	var claimedBy, outputRef, outputHash sql.NullString
	var submittedAt, settledAt sql.NullInt64

	err := s.Scan(&t.ID, &t.Requester, &taskType, &status, &t.InputRef, &t.OutputSpec, &t.Bounty,
		&deadline, &verifyMode, &claimedBy, &outputRef, &outputHash, &computeMS,
		&createdAt, &submittedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	t.VerificationMode = domain.VerificationMode(verifyMode)
	t.Deadline = time.Unix(deadline, 0)
	t.CreatedAt = time.Unix(createdAt, 0)
	t.ComputeTime = time.Duration(computeMS) * time.Millisecond
	t.ClaimedBy = claimedBy.String
	t.OutputRef = outputRef.String
	t.OutputHash = outputHash.String
	if submittedAt.Valid {
		t.SubmittedAt = time.Unix(submittedAt.Int64, 0)
	}
	if settledAt.Valid {
		t.SettledAt = time.Unix(settledAt.Int64, 0)
	}
	return &t, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
