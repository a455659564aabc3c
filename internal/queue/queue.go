// Package queue implements a durable work queue on an embedded SQLite
// database, standing in for a redundant queue service during local
// development. Delivery is at-least-once: claims hide a message for a
// visibility timeout and an unacknowledged message becomes claimable again.
// Claims are guarded by a conditional update keyed on the row's dequeue
// count, so two readers never dequeue the same message.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"standin/internal/models"
	"standin/internal/persistence"
)

const (
	// DefaultTable is the queue table name when none is configured.
	DefaultTable = "queue"

	// DefaultBusyTimeout is how long a writer waits on the database lock
	// before failing.
	DefaultBusyTimeout = 30 * time.Second

	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute

	deleteTokenLength   = 12
	deleteTokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// timeLayout is fixed-width UTC so that string comparison inside SQL
	// matches chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config defines one queue instance.
type Config struct {
	// Name identifies the queue; the backing database file is named after it.
	Name string
	// Table is the queue table name, DefaultTable when empty.
	Table string
	// BusyTimeout bounds waits on the database write lock.
	BusyTimeout time.Duration
	// CacheDir is the parent directory for queue databases. Defaults to the
	// user cache directory.
	CacheDir string
}

// DBPath returns the absolute path of the queue's database file.
func (c Config) DBPath() (string, error) {
	dir := c.CacheDir
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cache, "standin")
	}
	return filepath.Abs(filepath.Join(dir, "queues", c.Name+".db"))
}

func (c Config) table() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

func (c Config) busyTimeout() time.Duration {
	if c.BusyTimeout <= 0 {
		return DefaultBusyTimeout
	}
	return c.BusyTimeout
}

// DiskQueue is the SQLite-backed queue.
type DiskQueue struct {
	cfg    Config
	table  string
	dbPath string
	db     *sql.DB
}

var _ persistence.Queue = (*DiskQueue)(nil)

// Open opens the queue database, bootstrapping the schema idempotently. WAL
// mode allows concurrent readers alongside a single writer.
func Open(cfg Config) (*DiskQueue, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	table := cfg.table()
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid queue table name %q", table)
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	if err := configureDB(db, cfg.busyTimeout()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := bootstrapSchema(db, table); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("local disk queue configured", "name", cfg.Name, "path", dbPath)
	slog.Warn("local disk queue is not recommended for production; prefer a redundant high-availability service")

	return &DiskQueue{cfg: cfg, table: table, dbPath: dbPath, db: db}, nil
}

// Close closes the underlying database connection.
func (q *DiskQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// SendMessage inserts one message, claimable immediately.
func (q *DiskQueue) SendMessage(ctx context.Context, message string) error {
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (message, visibility_timeout) VALUES (?, ?)
	`, q.table), message, formatTime(time.Now()))
	return err
}

type candidate struct {
	id           int64
	content      string
	dequeueCount int
}

// ReceiveMessages claims up to max currently visible messages. Each claim is
// a conditional update keyed on the snapshotted dequeue count; zero rows
// affected means another reader won the row and it is skipped.
func (q *DiskQueue) ReceiveMessages(ctx context.Context, max int, visibilityTimeout time.Duration) ([]models.Message, error) {
	if max <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, message, dequeue_count
		FROM %s
		WHERE visibility_timeout < ?
		LIMIT ?
	`, q.table), formatTime(time.Now()), max)
	if err != nil {
		return nil, err
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.content, &c.dequeueCount); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Generate every token up front so a failure claims no rows.
	tokens := make([]string, len(candidates))
	for i := range candidates {
		token, err := newDeleteToken()
		if err != nil {
			return nil, err
		}
		tokens[i] = token
	}

	var claimed []models.Message
	for i, c := range candidates {
		token := tokens[i]
		deadline := time.Now().UTC().Add(visibilityTimeout)

		res, err := q.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET visibility_timeout = ?, delete_token = ?, dequeue_count = dequeue_count + 1
			WHERE id = ? AND dequeue_count = ?
		`, q.table), formatTime(deadline), token, c.id, c.dequeueCount)
		if err != nil {
			return claimed, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if affected == 0 {
			// Another reader claimed or deleted the row between the
			// select and the update. Not an error.
			continue
		}

		claimed = append(claimed, models.Message{
			MessageID:         strconv.FormatInt(c.id, 10),
			Content:           c.content,
			DeleteToken:       token,
			VisibilityTimeout: deadline,
			DequeueCount:      c.dequeueCount + 1,
		})
	}
	return claimed, nil
}

// DeleteMessage acknowledges a message. The delete is conditional on both id
// and delete token, so only the most recent claimant can acknowledge.
func (q *DiskQueue) DeleteMessage(ctx context.Context, message models.Message) error {
	id, err := strconv.ParseInt(message.MessageID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", message.MessageID, persistence.ErrMessageNotFound)
	}

	res, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE id = ? AND delete_token = ?
	`, q.table), id, message.DeleteToken)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("message %q: %w", message.MessageID, persistence.ErrMessageNotFound)
	}
	return nil
}

// DeleteQueue closes the database and removes its file along with the WAL
// sidecars. Best effort, not crash-atomic.
func (q *DiskQueue) DeleteQueue(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.Close(); err != nil {
		return err
	}
	for _, path := range []string{q.dbPath, q.dbPath + "-wal", q.dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	slog.Info("deleted local disk queue", "name", q.cfg.Name)
	return nil
}

func configureDB(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout.Milliseconds()),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func bootstrapSchema(db *sql.DB, table string) error {
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		  delete_token TEXT DEFAULT NULL,
		  dequeue_count INTEGER DEFAULT 0,
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  message TEXT NOT NULL,
		  visibility_timeout TEXT NOT NULL
		);
	`, table))
	return err
}

func sqliteDSN(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
