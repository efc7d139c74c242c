package game

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/zoobzio/clockz"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/deusvult/pkg/deusvult/uow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a chat or poll does not exist.
var ErrNotFound = errors.New("not found")

// Poll statuses.
const (
	PollRequested = "requested"
	PollSent      = "sent"
)

// Chat is a chat the bot has joined.
type Chat struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title,omitempty"`
	Type     string    `json:"type,omitempty"`
	Username string    `json:"username,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Poll is a recorded poll request. ID is the ID of the event that asked for
// it; MessageID is set once the poll was sent.
type Poll struct {
	ID          string
	ChatID      int64
	Question    string
	Options     []string
	IsAnonymous bool
	Explanation string
	Status      string
	MessageID   int64
	CreatedAt   time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists chats and polls in SQLite.
//
// Writes require the unit of work in ctx and run in its transaction. Reads
// use that transaction when there is one, so a handler sees its own
// uncommitted writes.
type Store struct {
	db    *sql.DB
	clock clockz.Clock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(clock clockz.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// OpenStore opens (creating if needed) the game database at path and applies
// its migrations. The path may be ":memory:" for testing.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrateStore(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, clock: clockz.RealClock}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrateStore(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Opener returns the unit-of-work opener for this store's database.
func (s *Store) Opener() uow.Opener {
	return uow.SQLOpener{DB: s.db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) reader(ctx context.Context) (queryer, error) {
	if uow.Current(ctx) == nil {
		return s.db, nil
	}
	return uow.SQLTx(ctx)
}

// AddChat inserts or updates a chat. AddedAt defaults to now.
func (s *Store) AddChat(ctx context.Context, chat Chat) error {
	tx, err := uow.SQLTx(ctx)
	if err != nil {
		return fmt.Errorf("add chat %d: %w", chat.ID, err)
	}
	if chat.AddedAt.IsZero() {
		chat.AddedAt = s.clock.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, title, type, username, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			username = excluded.username
	`, chat.ID, chat.Title, chat.Type, chat.Username, chat.AddedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add chat %d: %w", chat.ID, err)
	}
	return nil
}

// GetChat returns the chat with the given ID.
func (s *Store) GetChat(ctx context.Context, id int64) (Chat, error) {
	q, err := s.reader(ctx)
	if err != nil {
		return Chat{}, err
	}

	var chat Chat
	var addedAt string
	err = q.QueryRowContext(ctx,
		"SELECT id, title, type, username, added_at FROM chats WHERE id = ?", id,
	).Scan(&chat.ID, &chat.Title, &chat.Type, &chat.Username, &addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat %d: %w", id, err)
	}
	if chat.AddedAt, err = time.Parse(time.RFC3339Nano, addedAt); err != nil {
		return Chat{}, fmt.Errorf("parse chat %d added_at: %w", id, err)
	}
	return chat, nil
}

// ListChats returns every chat ordered by ID.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	q, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT id, title, type, username, added_at FROM chats ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var addedAt string
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.Type, &chat.Username, &addedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if chat.AddedAt, err = time.Parse(time.RFC3339Nano, addedAt); err != nil {
			return nil, fmt.Errorf("parse chat %d added_at: %w", chat.ID, err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// AddPoll records a poll and its options. Status defaults to PollRequested
// and CreatedAt to now.
func (s *Store) AddPoll(ctx context.Context, poll Poll) error {
	tx, err := uow.SQLTx(ctx)
	if err != nil {
		return fmt.Errorf("add poll %s: %w", poll.ID, err)
	}
	if poll.Status == "" {
		poll.Status = PollRequested
	}
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = s.clock.Now()
	}

	var messageID sql.NullInt64
	if poll.MessageID != 0 {
		messageID = sql.NullInt64{Int64: poll.MessageID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO polls (id, chat_id, question, is_anonymous, explanation, status, message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, poll.ID, poll.ChatID, poll.Question, poll.IsAnonymous, poll.Explanation,
		poll.Status, messageID, poll.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add poll %s: %w", poll.ID, err)
	}

	for i, text := range poll.Options {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO poll_options (poll_id, position, text) VALUES (?, ?, ?)",
			poll.ID, i, text,
		); err != nil {
			return fmt.Errorf("add poll %s option %d: %w", poll.ID, i, err)
		}
	}
	return nil
}

// MarkPollSent records the message that carried a poll.
func (s *Store) MarkPollSent(ctx context.Context, id string, messageID int64) error {
	tx, err := uow.SQLTx(ctx)
	if err != nil {
		return fmt.Errorf("mark poll %s sent: %w", id, err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE polls SET status = ?, message_id = ? WHERE id = ?",
		PollSent, messageID, id,
	)
	if err != nil {
		return fmt.Errorf("mark poll %s sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark poll %s sent: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("poll %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetPoll returns the poll with the given ID, options in order.
func (s *Store) GetPoll(ctx context.Context, id string) (Poll, error) {
	q, err := s.reader(ctx)
	if err != nil {
		return Poll{}, err
	}

	var poll Poll
	var messageID sql.NullInt64
	var createdAt string
	err = q.QueryRowContext(ctx, `
		SELECT id, chat_id, question, is_anonymous, explanation, status, message_id, created_at
		FROM polls WHERE id = ?
	`, id).Scan(&poll.ID, &poll.ChatID, &poll.Question, &poll.IsAnonymous,
		&poll.Explanation, &poll.Status, &messageID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Poll{}, fmt.Errorf("poll %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Poll{}, fmt.Errorf("get poll %s: %w", id, err)
	}
	poll.MessageID = messageID.Int64
	if poll.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Poll{}, fmt.Errorf("parse poll %s created_at: %w", id, err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT text FROM poll_options WHERE poll_id = ? ORDER BY position", id)
	if err != nil {
		return Poll{}, fmt.Errorf("get poll %s options: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return Poll{}, fmt.Errorf("scan poll option: %w", err)
		}
		poll.Options = append(poll.Options, text)
	}
	return poll, rows.Err()
}
