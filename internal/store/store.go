package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bridgebot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store and the connection bookkeeping of the
// bot commands using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ domain.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger = logger.With("component", "store")
	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) { return GetSchemaVersion(s.db) }

func (s *SQLiteStore) FindConversation(ctx context.Context, key domain.Key) (*domain.Conversation, error) {
	conv := domain.Conversation{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT title FROM conversations WHERE provider = ? AND id = ?`, key.Provider, key.ID,
	).Scan(&conv.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpsertConversation records conv, refreshing its title.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (provider, id, title, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider, id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		conv.Provider, conv.ID, conv.Title, time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) FindPerson(ctx context.Context, key domain.Key) (*domain.Person, error) {
	p := domain.Person{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, username, is_admin FROM persons WHERE provider = ? AND id = ?`, key.Provider, key.ID,
	).Scan(&p.DisplayName, &p.Username, &p.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) SavePerson(ctx context.Context, p domain.Person) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO persons (provider, id, display_name, username, is_admin) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(provider, id) DO UPDATE SET
		   display_name = excluded.display_name,
		   username = excluded.username,
		   is_admin = excluded.is_admin`,
		p.Provider, p.ID, p.DisplayName, p.Username, p.IsAdmin,
	)
	return err
}

func (s *SQLiteStore) DeletePerson(ctx context.Context, key domain.Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM persons WHERE provider = ? AND id = ?`, key.Provider, key.ID)
	return err
}

const connectionColumns = `
	c.id, c.left_provider, c.left_id, COALESCE(lc.title, ''),
	c.right_provider, c.right_id, COALESCE(rc.title, ''),
	c.direction, COALESCE(c.token, ''), c.created_at
	FROM connections c
	LEFT JOIN conversations lc ON lc.provider = c.left_provider AND lc.id = c.left_id
	LEFT JOIN conversations rc ON rc.provider = c.right_provider AND rc.id = c.right_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	var (
		c                  domain.Connection
		rightProv, rightID sql.NullString
		rightTitle         string
	)
	err := row.Scan(
		&c.ID, &c.Left.Provider, &c.Left.ID, &c.Left.Title,
		&rightProv, &rightID, &rightTitle,
		&c.Direction, &c.Token, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rightProv.Valid && rightID.Valid {
		c.Right = &domain.Conversation{
			Key:   domain.Key{Provider: rightProv.String, ID: rightID.String},
			Title: rightTitle,
		}
	}
	return &c, nil
}

func (s *SQLiteStore) queryConnection(ctx context.Context, where string, args ...any) (*domain.Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// FindConnectionsFor returns the connections with key on either side,
// pending ones included, oldest first.
func (s *SQLiteStore) FindConnectionsFor(ctx context.Context, key domain.Key) ([]domain.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 WHERE (c.left_provider = ? AND c.left_id = ?) OR (c.right_provider = ? AND c.right_id = ?)
		 ORDER BY c.id`,
		key.Provider, key.ID, key.Provider, key.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindConnection(ctx context.Context, id int64) (*domain.Connection, error) {
	return s.queryConnection(ctx, `c.id = ?`, id)
}

// FindConnectionByToken returns the pending connection issued with token.
func (s *SQLiteStore) FindConnectionByToken(ctx context.Context, token string) (*domain.Connection, error) {
	return s.queryConnection(ctx, `c.token = ? AND c.right_id IS NULL`, token)
}

// CreatePendingConnection starts a connection from left that waits for
// token to be redeemed in another chat.
func (s *SQLiteStore) CreatePendingConnection(ctx context.Context, left domain.Conversation, token string) (*domain.Connection, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (left_provider, left_id, direction, token, created_at) VALUES (?, ?, ?, ?, ?)`,
		left.Provider, left.ID, domain.TwoWay, token, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Connection{ID: id, Left: left, Direction: domain.TwoWay, Token: token, CreatedAt: now}, nil
}

// CompleteConnection attaches right to a pending connection and burns its
// token.
func (s *SQLiteStore) CompleteConnection(ctx context.Context, id int64, right domain.Key) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET right_provider = ?, right_id = ?, token = NULL WHERE id = ? AND right_id IS NULL`,
		right.Provider, right.ID, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *SQLiteStore) SetDirection(ctx context.Context, id int64, d domain.Direction) error {
	res, err := s.db.ExecContext(ctx, `UPDATE connections SET direction = ? WHERE id = ?`, d, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// DeleteExpiredPending removes pending connections created before cutoff.
func (s *SQLiteStore) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE right_id IS NULL AND created_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if n > 0 {
		s.logger.Info("expired pending connections removed", "count", n)
	}
	return n, err
}

// ErrNotFound is returned by updates of a connection that does not exist.
var ErrNotFound = errors.New("not found")

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return nil
}
