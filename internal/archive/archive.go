// Package archive persists terminal run receipts to SQLite so outcomes
// survive daemon restarts and stay queryable for the API, the CLI, and
// baseline comparisons. The store is pure Go (modernc.org/sqlite, no CGO)
// and safe for concurrent use through a single serialized connection.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one archived pipeline run. List queries leave Receipt nil; Get
// loads it in full.
type Run struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	UnitKey     string           `json:"unit_key"`
	Repo        string           `json:"repo"`
	Number      int              `json:"number"`
	HeadSHA     string           `json:"head_sha"`
	Tier        string           `json:"tier"`
	Outcome     review.Outcome   `json:"outcome"`
	Reason      string           `json:"reason,omitempty"`
	Iterations  int              `json:"iterations"`
	GatesPassed int              `json:"gates_passed"`
	GatesFailed int              `json:"gates_failed"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	CreatedAt   time.Time        `json:"created_at"`
	Receipt     *receipt.Receipt `json:"receipt,omitempty"`
}

// ListFilter narrows ListRuns. Zero values mean no constraint.
type ListFilter struct {
	UnitKey string
	Repo    string
	Outcome review.Outcome
	Limit   int
}

// Store is the SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the archive database at the given path and brings
// the schema up to date.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all access through Go's connection pool,
	// preventing "database is locked" errors when the worker pool and the
	// HTTP API hit the archive at the same time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. The readiness endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs all embedded SQL migration files in filename order, tracking
// applied files in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// SaveRun archives a terminal receipt and returns the archive record id.
func (s *Store) SaveRun(ctx context.Context, rcpt *receipt.Receipt) (string, error) {
	if rcpt == nil {
		return "", fmt.Errorf("save run: nil receipt")
	}
	payload, err := json.Marshal(rcpt)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	id := newULID()
	runID := rcpt.RunID
	if runID == "" {
		// Receipts replayed from files may predate run ids; the record id
		// keeps the UNIQUE constraint satisfiable.
		runID = id
	}
	pass, fail, _, _ := rcpt.Counts()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_id, unit_key, repo, number, head_sha, tier, outcome, reason, iterations, gates_passed, gates_failed, started_at, finished_at, receipt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, rcpt.Unit.Key(), rcpt.Unit.Repo, rcpt.Unit.Number, rcpt.Unit.HeadSHA,
		rcpt.Tier, string(rcpt.Outcome), rcpt.Reason, rcpt.Iterations, pass, fail,
		rcpt.StartedAt.UTC(), rcpt.FinishedAt.UTC(), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return id, nil
}

const runColumns = `id, run_id, unit_key, repo, number, head_sha, tier, outcome, reason, iterations, gates_passed, gates_failed, started_at, finished_at, created_at`

// GetRun loads one archived run, receipt included. The id may be either the
// archive record id or the receipt's run id, so operators can paste whichever
// one they have.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var outcome, payload string

	err := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+`, receipt FROM runs WHERE id = ? OR run_id = ?`, id, id,
	).Scan(&run.ID, &run.RunID, &run.UnitKey, &run.Repo, &run.Number, &run.HeadSHA,
		&run.Tier, &outcome, &run.Reason, &run.Iterations, &run.GatesPassed, &run.GatesFailed,
		&run.StartedAt, &run.FinishedAt, &run.CreatedAt, &payload)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	run.Outcome = review.Outcome(outcome)
	rcpt := &receipt.Receipt{}
	if err := json.Unmarshal([]byte(payload), rcpt); err != nil {
		return nil, fmt.Errorf("unmarshal receipt for run %s: %w", run.ID, err)
	}
	run.Receipt = rcpt
	return run, nil
}

// LatestRun returns the most recently archived run for a unit key, or a
// not-found error when the unit has never reached terminal.
func (s *Store) LatestRun(ctx context.Context, unitKey string) (*Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE unit_key = ? ORDER BY created_at DESC, id DESC LIMIT 1`, unitKey,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no archived runs for unit: %s", unitKey)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// ListRuns returns archived run summaries, newest first. Receipts are not
// loaded; use GetRun for the full record.
func (s *Store) ListRuns(ctx context.Context, filter ListFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conditions []string
	var args []any

	if filter.UnitKey != "" {
		conditions = append(conditions, "unit_key = ?")
		args = append(args, filter.UnitKey)
	}
	if filter.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var outcome string
		if err := rows.Scan(&run.ID, &run.RunID, &run.UnitKey, &run.Repo, &run.Number, &run.HeadSHA,
			&run.Tier, &outcome, &run.Reason, &run.Iterations, &run.GatesPassed, &run.GatesFailed,
			&run.StartedAt, &run.FinishedAt, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Outcome = review.Outcome(outcome)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountByOutcome tallies archived runs per outcome for the stats endpoint.
func (s *Store) CountByOutcome(ctx context.Context) (map[review.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[review.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[review.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// PruneBefore deletes runs archived before the cutoff and returns how many
// rows went away. The daemon calls this on its retention ticker.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
