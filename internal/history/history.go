// Package history keeps an append-only SQLite log of executed actions.
// It is read by the ops API and never consulted by the dispatcher.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	// writeTimeout bounds a single insert so a locked database cannot stall completions.
	writeTimeout = 5 * time.Second
)

// Entry is one row of action_log.
type Entry struct {
	ID          string    `json:"id"`
	Alias       string    `json:"alias"`
	Command     string    `json:"command"`
	Executor    string    `json:"executor"`
	Outcome     string    `json:"outcome"`
	ExitCode    int       `json:"exit_code"`
	TimedOut    bool      `json:"timed_out"`
	Stdout      string    `json:"stdout,omitempty"`
	Stderr      string    `json:"stderr,omitempty"`
	Error       string    `json:"error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Store reads and writes action_log.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database bootstrapped by storage.OpenSQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends e.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO action_log(
  id, alias, command, executor, outcome, exit_code, timed_out, stdout, stderr, error,
  enqueued_at, started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID, e.Alias, e.Command, e.Executor, e.Outcome, e.ExitCode, e.TimedOut,
		nullIfEmpty(e.Stdout), nullIfEmpty(e.Stderr), nullIfEmpty(e.Error),
		formatTime(e.EnqueuedAt), formatTime(e.StartedAt), formatTime(e.CompletedAt), e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert action_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty alias matches all.
func (s *Store) Recent(ctx context.Context, limit int, alias string) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	rows, err := s.db.QueryContext(ctx, `
SELECT id, alias, command, executor, outcome, exit_code, timed_out, stdout, stderr, error,
       enqueued_at, started_at, completed_at, duration_ms
FROM action_log
WHERE ? = '' OR alias = ?
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, alias, alias, limit)
	if err != nil {
		return nil, fmt.Errorf("query action_log: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                                  Entry
			stdout, stderr, errText            sql.NullString
			enqueuedAt, startedAt, completedAt string
		)
		if err := rows.Scan(
			&e.ID, &e.Alias, &e.Command, &e.Executor, &e.Outcome, &e.ExitCode, &e.TimedOut,
			&stdout, &stderr, &errText, &enqueuedAt, &startedAt, &completedAt, &e.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scan action_log: %w", err)
		}
		e.Stdout, e.Stderr, e.Error = stdout.String, stderr.String, errText.String
		e.EnqueuedAt = parseTime(enqueuedAt)
		e.StartedAt = parseTime(startedAt)
		e.CompletedAt = parseTime(completedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries completed more than retention ago and returns how
// many were removed. retention <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-retention))
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune action_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune action_log: %w", err)
	}
	return n, nil
}

// RunPruner prunes immediately and then every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, retention, interval time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := s.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("failed to prune action history", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned action history", "removed", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// Recorder is a dispatch.Observer that writes one Entry per completed action.
type Recorder struct {
	dispatch.NopObserver
	store    *Store
	executor string
	logger   *slog.Logger
}

// NewRecorder returns a Recorder tagging entries with the executor name.
func NewRecorder(store *Store, executor string, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, executor: executor, logger: logger}
}

func (r *Recorder) ActionCompleted(req queue.Request, res dispatch.Result) {
	started := res.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	e := Entry{
		ID:          req.ID,
		Alias:       req.Alias,
		Command:     req.Command,
		Executor:    r.executor,
		Outcome:     string(res.Outcome),
		ExitCode:    res.ExitCode,
		TimedOut:    res.TimedOut,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		Error:       res.ErrString(),
		EnqueuedAt:  req.EnqueuedAt,
		StartedAt:   started,
		CompletedAt: started.Add(res.Duration),
		DurationMS:  res.Duration.Milliseconds(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record action history", "action_id", req.ID, "error", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
