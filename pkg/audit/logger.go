// Package audit persists routed outcomes to a SQLite log for offline
// inspection. Session keys are stored hashed, with a short prefix for
// human correlation.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tierd-ai/tierd/pkg/models"
	_ "modernc.org/sqlite"
)

// Logger writes and queries route audit entries in a SQLite database.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS route_log (
		request_id     TEXT PRIMARY KEY,
		session_hash   TEXT NOT NULL,
		session_prefix TEXT NOT NULL,
		decision       TEXT NOT NULL,
		source         TEXT NOT NULL,
		reason         TEXT,
		desired_pool   TEXT,
		final_pool     TEXT,
		policy         TEXT,
		budget_blocked INTEGER NOT NULL DEFAULT 0,
		lock_used      INTEGER NOT NULL DEFAULT 0,
		cb_skipped     INTEGER NOT NULL DEFAULT 0,
		provider       TEXT,
		model          TEXT,
		ok             INTEGER NOT NULL DEFAULT 0,
		latency_ms     INTEGER,
		created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_route_decision ON route_log(decision)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_route_created ON route_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_route_prefix ON route_log(session_prefix)`)
	return err
}

// Log inserts a route audit entry.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO route_log
		(request_id, session_hash, session_prefix, decision, source, reason,
		 desired_pool, final_pool, policy, budget_blocked, lock_used, cb_skipped,
		 provider, model, ok, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.SessionHash, entry.SessionPrefix,
		string(entry.Decision), string(entry.Source), entry.Reason,
		string(entry.DesiredPool), string(entry.FinalPool), string(entry.Policy),
		entry.BudgetBlocked, entry.LockUsed, entry.CBSkipped,
		entry.ProviderID, entry.Model, entry.OK,
		entry.LatencyMs, entry.CreatedAt,
	)
	return err
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, session_hash, session_prefix, decision, source, reason,
		desired_pool, final_pool, policy, budget_blocked, lock_used, cb_skipped,
		provider, model, ok, latency_ms, created_at
		FROM route_log WHERE 1=1`
	var args []any

	if opts.SessionPrefix != "" {
		q += " AND session_prefix = ?"
		args = append(args, opts.SessionPrefix)
	}
	if opts.Decision != "" {
		q += " AND decision = ?"
		args = append(args, string(opts.Decision))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var reason, desired, final, policy, provider, model sql.NullString
		var latency sql.NullInt64
		if err := rows.Scan(
			&e.RequestID, &e.SessionHash, &e.SessionPrefix,
			&e.Decision, &e.Source, &reason,
			&desired, &final, &policy,
			&e.BudgetBlocked, &e.LockUsed, &e.CBSkipped,
			&provider, &model, &e.OK,
			&latency, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Reason = reason.String
		e.DesiredPool = models.Pool(desired.String)
		e.FinalPool = models.Pool(final.String)
		e.Policy = models.Policy(policy.String)
		e.ProviderID = provider.String
		e.Model = model.String
		e.LatencyMs = latency.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by decision and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT decision, date(created_at) as day, count(*) as cnt
		 FROM route_log GROUP BY decision, day ORDER BY day DESC, decision`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		if err := rows.Scan(&s.Decision, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM route_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// HashSession returns the SHA-256 hex hash and 8-char prefix for a
// session key.
func HashSession(session string) (hash, prefix string) {
	h := sha256.Sum256([]byte(session))
	hash = hex.EncodeToString(h[:])
	if len(session) > 8 {
		prefix = session[:8]
	} else {
		prefix = session
	}
	return hash, prefix
}
