package recovery

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/docstore"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	ReasonOverflow    = "overflow"
	ReasonMaxAttempts = "max-attempts"
	ReasonPermanent   = "permanent-failure"
	ReasonCorrupt     = "corrupt-payload"
)

// ReplayFunc writes a queued event. It must not enqueue the event again.
type ReplayFunc func(ctx context.Context, raw map[string]any, ownerId, familyId string) error

type Options struct {
	// MaxEntries bounds the queue; the oldest entries beyond it are dead-lettered.
	MaxEntries int
	// MaxAttempts is the number of failed replays after which an entry is dead-lettered.
	MaxAttempts int
}

type Entry struct {
	Id        int64
	OwnerId   string
	FamilyId  string
	Raw       map[string]any
	Attempts  int
	LastError string
	QueuedAt  time.Time
	Reason    string
}

type DrainResult struct {
	Recovered    int `json:"recovered"`
	StillFailing int `json:"stillFailing"`
	DeadLettered int `json:"deadLettered"`
}

// Queue persists adds that failed so they survive a restart. It is backed by a
// single SQLite file and allows one drain at a time.
type Queue struct {
	db    *sql.DB
	clock utils.Clock
	opts  Options

	drainMu sync.Mutex
}

// Open creates or opens the queue file at path and applies its migrations.
func Open(path string, clock utils.Clock, opts Options) (*Queue, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recovery directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery queue: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases intact.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure recovery queue: %w", err)
	}

	if err := migrateQueue(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Recovery queue opened at %s", path)
	return &Queue{db: db, clock: clock, opts: opts}, nil
}

// migrateQueue applies the embedded migrations. The migrate instance is not
// closed because that would close db as well.
func migrateQueue(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read recovery migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply recovery migrations: %w", err)
	}
	return nil
}

// Enqueue stores raw for a later replay.
func (q *Queue) Enqueue(ctx context.Context, raw map[string]any, ownerId, familyId string) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode queued event: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO pending_events (owner_id, family_id, payload, attempts, last_error, queued_at) VALUES (?, ?, ?, 0, '', ?)",
		ownerId, familyId, string(payload), q.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_events").Scan(&count); err != nil {
		return fmt.Errorf("failed to count queued events: %w", err)
	}
	if overflow := count - q.opts.MaxEntries; overflow > 0 {
		log.Warnf("Recovery queue is full, dead-lettering %d oldest event(s)", overflow)
		if err := q.deadLetterOldest(ctx, tx, overflow); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (q *Queue) deadLetterOldest(ctx context.Context, tx *sql.Tx, n int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (owner_id, family_id, payload, attempts, last_error, queued_at, dead_at, reason)
		SELECT owner_id, family_id, payload, attempts, last_error, queued_at, ?, ?
		FROM pending_events ORDER BY id LIMIT ?`,
		q.clock.Now().UnixMilli(), ReasonOverflow, n)
	if err != nil {
		return fmt.Errorf("failed to dead-letter overflow: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM pending_events WHERE id IN (SELECT id FROM pending_events ORDER BY id LIMIT ?)", n)
	if err != nil {
		return fmt.Errorf("failed to trim queue: %w", err)
	}
	return nil
}

// Drain replays every queued entry in order. Successful entries are removed;
// failures stay queued with their attempt count raised until MaxAttempts, and
// failures that cannot succeed on a retry are dead-lettered at once.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var result DrainResult
	entries, err := q.list(ctx, "SELECT id, owner_id, family_id, payload, attempts, last_error, queued_at, '' FROM pending_events ORDER BY id")
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}
	log.Infof("Draining %d queued event(s)", len(entries))

	// Bookkeeping for a replay that already happened must not be lost to cancellation.
	bookkeeping := context.WithoutCancel(ctx)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if entry.Raw == nil {
			if err := q.moveToDeadLetters(bookkeeping, entry, ReasonCorrupt); err != nil {
				return result, err
			}
			result.DeadLettered++
			continue
		}

		replayErr := replay(ctx, entry.Raw, entry.OwnerId, entry.FamilyId)
		switch {
		case replayErr == nil:
			if _, err := q.db.ExecContext(bookkeeping, "DELETE FROM pending_events WHERE id = ?", entry.Id); err != nil {
				return result, fmt.Errorf("failed to remove recovered event: %w", err)
			}
			result.Recovered++
		case errors.Is(replayErr, context.Canceled) || errors.Is(replayErr, context.DeadlineExceeded):
			return result, replayErr
		case !docstore.IsTransient(replayErr):
			entry.Attempts++
			entry.LastError = replayErr.Error()
			log.WithError(replayErr).Errorf("Queued event %d can not be replayed", entry.Id)
			if err := q.moveToDeadLetters(bookkeeping, entry, ReasonPermanent); err != nil {
				return result, err
			}
			result.DeadLettered++
		default:
			entry.Attempts++
			entry.LastError = replayErr.Error()
			if entry.Attempts >= q.opts.MaxAttempts {
				log.Warnf("Queued event %d failed %d times, dead-lettering", entry.Id, entry.Attempts)
				if err := q.moveToDeadLetters(bookkeeping, entry, ReasonMaxAttempts); err != nil {
					return result, err
				}
				result.DeadLettered++
				continue
			}
			if _, err := q.db.ExecContext(bookkeeping, "UPDATE pending_events SET attempts = ?, last_error = ? WHERE id = ?",
				entry.Attempts, entry.LastError, entry.Id); err != nil {
				return result, fmt.Errorf("failed to record replay failure: %w", err)
			}
			result.StillFailing++
		}
	}

	log.Infof("Recovery drain finished: %d recovered, %d still failing, %d dead-lettered",
		result.Recovered, result.StillFailing, result.DeadLettered)
	return result, nil
}

func (q *Queue) moveToDeadLetters(ctx context.Context, entry Entry, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letters (owner_id, family_id, payload, attempts, last_error, queued_at, dead_at, reason)
		SELECT owner_id, family_id, payload, ?, ?, queued_at, ?, ? FROM pending_events WHERE id = ?`,
		entry.Attempts, entry.LastError, q.clock.Now().UnixMilli(), reason, entry.Id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter event %d: %w", entry.Id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_events WHERE id = ?", entry.Id); err != nil {
		return fmt.Errorf("failed to dead-letter event %d: %w", entry.Id, err)
	}
	return tx.Commit()
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queued events: %w", err)
	}
	return count, nil
}

// Pending returns the queued entries, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, "SELECT id, owner_id, family_id, payload, attempts, last_error, queued_at, '' FROM pending_events ORDER BY id")
}

func (q *Queue) DeadLetters(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, "SELECT id, owner_id, family_id, payload, attempts, last_error, queued_at, reason FROM dead_letters ORDER BY id")
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) list(ctx context.Context, query string) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			payload  string
			queuedAt int64
		)
		if err := rows.Scan(&entry.Id, &entry.OwnerId, &entry.FamilyId, &payload, &entry.Attempts,
			&entry.LastError, &queuedAt, &entry.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan queued event: %w", err)
		}
		entry.QueuedAt = time.UnixMilli(queuedAt).UTC()
		if err := json.Unmarshal([]byte(payload), &entry.Raw); err != nil {
			log.WithError(err).Warnf("Queued event %d has an unreadable payload", entry.Id)
			entry.Raw = nil
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return entries, nil
}
