package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/Tyrowin/gorelay/internal/protocol"
)

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		content_type INTEGER NOT NULL,
		text TEXT,
		filename TEXT,
		content BLOB,
		created_at INTEGER NOT NULL,
		FOREIGN KEY(sender) REFERENCES users(username)
	)`,
	`CREATE TABLE IF NOT EXISTS config (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Option configures a store.
type Option func(*options)

type options struct {
	params HashParams
	logger zerolog.Logger
}

// WithHashParams overrides DefaultHashParams for newly hashed passwords.
func WithHashParams(p HashParams) Option {
	return func(o *options) { o.params = p }
}

// WithLogger sets the logger used for schema and salt events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{params: DefaultHashParams, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SQLite is a Store backed by a single SQLite database file. All calls are
// serialised; the database is used as one logical session.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	hasher *PasswordHasher
	log    zerolog.Logger
	closed bool
}

// OpenSQLite opens or creates the database at path. A new database gets its
// schema and a freshly generated password salt; an existing one has its salt
// loaded.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, log: o.logger.With().Str("component", "store").Logger()}
	salt, err := s.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.hasher, err = NewPasswordHasher(salt, o.params)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) ([]byte, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return nil, fmt.Errorf("store: read schema version: %w", err)
	}

	if version == 0 {
		s.log.Warn().Msg("Creating a new database")
		if err := s.createSchema(ctx); err != nil {
			return nil, err
		}
	} else if version != schemaVersion {
		return nil, fmt.Errorf("store: unsupported schema version %d", version)
	}

	var encoded string
	err := sq.Select("value").From("config").
		Where(sq.Eq{"key": "password_salt"}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&encoded)
	if err != nil {
		return nil, fmt.Errorf("store: load password salt: %w", err)
	}
	s.log.Info().Msg("Loaded password salt")
	return decodeSalt(encoded)
}

func (s *SQLite) createSchema(ctx context.Context) error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}

	_, err = sq.Insert("config").Columns("key", "value").
		Values("password_salt", encodeSalt(salt)).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store: save password salt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit schema: %w", err)
	}

	s.log.Info().Msg("Generated password salt")
	return nil
}

// Authenticate implements Store.
func (s *SQLite) Authenticate(ctx context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	var hash string
	err := sq.Select("password").From("users").
		Where(sq.Eq{"username": username}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: look up %q: %w", username, err)
	}

	ok, err := VerifyPassword(hash, password)
	if err != nil {
		return false, fmt.Errorf("store: verify %q: %w", username, err)
	}
	return ok, nil
}

// Register implements Store.
func (s *SQLite) Register(ctx context.Context, username, password string) error {
	if username == "" {
		return ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var count int
	err := sq.Select("COUNT(*)").From("users").
		Where(sq.Eq{"username": username}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return fmt.Errorf("store: look up %q: %w", username, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %q", ErrUserExists, username)
	}

	_, err = sq.Insert("users").Columns("username", "password").
		Values(username, s.hasher.Hash(password)).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store: insert user %q: %w", username, err)
	}
	return nil
}

// StoreMessage implements Store.
func (s *SQLite) StoreMessage(ctx context.Context, msg protocol.ChatMessage) error {
	insert := sq.Insert("messages")
	now := time.Now().UnixMilli()

	switch c := msg.Content.(type) {
	case protocol.Text:
		insert = insert.Columns("sender", "content_type", "text", "created_at").
			Values(msg.Sender, contentText, string(c), now)
	case protocol.Image:
		insert = insert.Columns("sender", "content_type", "content", "created_at").
			Values(msg.Sender, contentImage, []byte(c), now)
	case protocol.File:
		insert = insert.Columns("sender", "content_type", "filename", "content", "created_at").
			Values(msg.Sender, contentFile, c.Name, c.Data, now)
	default:
		return fmt.Errorf("store: unsupported content %T", c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := insert.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("store: insert message from %q: %w", msg.Sender, err)
	}
	return nil
}

// Messages implements History.
func (s *SQLite) Messages(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := sq.Select("id", "sender", "content_type", "text", "filename", "content", "created_at").
		From("messages").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			kind     int
			text     sql.NullString
			filename sql.NullString
			content  []byte
			created  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Message.Sender, &kind, &text, &filename, &content, &created); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		rec.Message.Content, err = decodeContent(kind, text.String, filename.String, content)
		if err != nil {
			return nil, fmt.Errorf("store: message %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func decodeContent(kind int, text, filename string, content []byte) (protocol.Content, error) {
	if content == nil {
		content = []byte{}
	}
	switch kind {
	case contentText:
		return protocol.Text(text), nil
	case contentImage:
		return protocol.Image(content), nil
	case contentFile:
		return protocol.File{Name: filename, Data: content}, nil
	default:
		return nil, fmt.Errorf("unknown content type %d", kind)
	}
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
