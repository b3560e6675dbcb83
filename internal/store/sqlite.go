package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/supportbot.db". ":memory:" opens a
// private in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/supportbot.db"
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT UNIQUE NOT NULL,
		creation_date DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		body TEXT NOT NULL,
		sender TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		id_sale INTEGER NOT NULL,
		merchant_id INTEGER NOT NULL,
		chip_id INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_id INTEGER NOT NULL,
		merchant_id INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		merchant_id INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		complete INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_at DATETIME NOT NULL,
		interval_seconds INTEGER NOT NULL,
		repeat_count INTEGER,
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		cancelled INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		level TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		platform TEXT,
		logged_at DATETIME NOT NULL,
		created_on DATETIME NOT NULL,
		log_file TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_one_active ON actions(conversation_id) WHERE completed = 0;
	CREATE INDEX IF NOT EXISTS idx_sales_id_sale ON sales(id_sale);
	CREATE INDEX IF NOT EXISTS idx_transactions_transaction_id ON transactions(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_receipts_merchant_id ON receipts(merchant_id);
	CREATE INDEX IF NOT EXISTS idx_logs_created_on ON logs(created_on);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observeSQLite(start time.Time) {
	metrics.DatabaseLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
}

// GetConversation retrieves a conversation by its client token.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	defer observeSQLite(time.Now())

	c := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, creation_date
		FROM conversations WHERE conversation_id = ?
	`, conversationID).Scan(&c.ID, &c.ConversationID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// CreateConversation creates a conversation record. Creating an existing
// conversation returns the stored row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (conversation_id, creation_date)
		VALUES (?, ?)
	`, conversationID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.GetConversation(ctx, conversationID)
}

// ListConversations returns all conversations in creation order.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, creation_date
		FROM conversations ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendMessage stores a message. ID and timestamp are filled if unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	defer observeSQLite(time.Now())

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, body, sender, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Body, string(msg.Sender), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row scanner) (*models.Message, error) {
	m := &models.Message{}
	var sender string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Body, &sender, &m.Timestamp); err != nil {
		return nil, err
	}
	m.Sender = models.Sender(sender)
	return m, nil
}

// GetMessages returns the messages of a conversation oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, body, sender, sent_at
		FROM messages WHERE conversation_id = ?
		ORDER BY sent_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastMessage returns the most recent message of a conversation.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	defer observeSQLite(time.Now())

	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, body, sender, sent_at
		FROM messages WHERE conversation_id = ?
		ORDER BY sent_at DESC, id DESC LIMIT 1
	`, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// GetActiveAction returns the uncompleted action of a conversation.
func (s *SQLiteStore) GetActiveAction(ctx context.Context, conversationID string) (*models.Action, error) {
	defer observeSQLite(time.Now())

	a := &models.Action{}
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, name, completed, created_at
		FROM actions WHERE conversation_id = ? AND completed = 0
		LIMIT 1
	`, conversationID).Scan(&a.ID, &a.ConversationID, &name, &a.Completed, &a.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Name = models.Intent(name)
	return a, nil
}

// CreateAction records a new pending intent for a conversation.
func (s *SQLiteStore) CreateAction(ctx context.Context, conversationID string, name models.Intent) (*models.Action, error) {
	defer observeSQLite(time.Now())

	a := &models.Action{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Name:           name,
		Timestamp:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, conversation_id, name, completed, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, a.ID.String(), a.ConversationID, string(a.Name), a.Timestamp)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrActiveActionExists
		}
		return nil, fmt.Errorf("create action: %w", err)
	}
	return a, nil
}

// CompleteAction marks an action as completed.
func (s *SQLiteStore) CompleteAction(ctx context.Context, id uuid.UUID) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `UPDATE actions SET completed = 1 WHERE id = ?`, id.String())
	return err
}

// FindSales returns the sales with the given sale id.
func (s *SQLiteStore) FindSales(ctx context.Context, idSale int64) ([]models.Sale, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id_sale, merchant_id, chip_id, created_at, status, description
		FROM sales WHERE id_sale = ?
	`, idSale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Sale
	for rows.Next() {
		var v models.Sale
		if err := rows.Scan(&v.IDSale, &v.MerchantID, &v.ChipID, &v.CreatedAt, &v.Status, &v.Description); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindTransactions returns the transactions with the given id.
func (s *SQLiteStore) FindTransactions(ctx context.Context, transactionID int64) ([]models.Transaction, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, merchant_id, created_at, value
		FROM transactions WHERE transaction_id = ?
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var v models.Transaction
		if err := rows.Scan(&v.TransactionID, &v.MerchantID, &v.CreatedAt, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindReceipts returns the receipts of a merchant.
func (s *SQLiteStore) FindReceipts(ctx context.Context, merchantID int64) ([]models.Receipt, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_id, created_at, status, description, value
		FROM receipts WHERE merchant_id = ?
	`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Receipt
	for rows.Next() {
		var v models.Receipt
		if err := rows.Scan(&v.MerchantID, &v.CreatedAt, &v.Status, &v.Description, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SeedLookups inserts the fixture rows that are not present yet.
func (s *SQLiteStore) SeedLookups(ctx context.Context, seed *models.Seed) (int, error) {
	defer observeSQLite(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	exec := func(query string, args ...any) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
		return nil
	}

	for _, r := range seed.Receipts {
		if err := exec(`
			INSERT INTO receipts (id, merchant_id, created_at, status, description, value)
			SELECT ?1, ?2, ?3, ?4, ?5, ?6
			WHERE NOT EXISTS (
				SELECT 1 FROM receipts WHERE merchant_id = ?2 AND created_at = ?3
				AND status = ?4 AND description = ?5 AND value = ?6
			)
		`, uuid.NewString(), r.MerchantID, r.CreatedAt, r.Status, r.Description, r.Value); err != nil {
			return 0, fmt.Errorf("seed receipts: %w", err)
		}
	}
	for _, v := range seed.Sales {
		if err := exec(`
			INSERT INTO sales (id, id_sale, merchant_id, chip_id, created_at, status, description)
			SELECT ?1, ?2, ?3, ?4, ?5, ?6, ?7
			WHERE NOT EXISTS (
				SELECT 1 FROM sales WHERE id_sale = ?2 AND merchant_id = ?3 AND chip_id = ?4
				AND created_at = ?5 AND status = ?6 AND description = ?7
			)
		`, uuid.NewString(), v.IDSale, v.MerchantID, v.ChipID, v.CreatedAt, v.Status, v.Description); err != nil {
			return 0, fmt.Errorf("seed sales: %w", err)
		}
	}
	for _, t := range seed.Transactions {
		if err := exec(`
			INSERT INTO transactions (id, transaction_id, merchant_id, created_at, value)
			SELECT ?1, ?2, ?3, ?4, ?5
			WHERE NOT EXISTS (
				SELECT 1 FROM transactions WHERE transaction_id = ?2 AND merchant_id = ?3
				AND created_at = ?4 AND value = ?5
			)
		`, uuid.NewString(), t.TransactionID, t.MerchantID, t.CreatedAt, t.Value); err != nil {
			return 0, fmt.Errorf("seed transactions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// CreateTask stores a task shadow record.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	defer observeSQLite(time.Now())

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, progress, message, complete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Description, task.Progress, task.Message, task.Complete, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

const sqliteTaskColumns = `id, name, description, progress, message, complete, created_at`

func scanSQLiteTask(row scanner) (*models.Task, error) {
	t := &models.Task{}
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Progress, &t.Message, &t.Complete, &t.CreatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask retrieves a task by job id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	defer observeSQLite(time.Now())

	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// UpdateTaskProgress stores the latest progress and message of a task.
func (s *SQLiteStore) UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET progress = ?, message = ? WHERE id = ?`, progress, message, id)
	return err
}

// CompleteTask marks a task as complete.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET complete = 1 WHERE id = ?`, id)
	return err
}

// ListIncompleteTasks returns outstanding tasks, optionally for one name.
func (s *SQLiteStore) ListIncompleteTasks(ctx context.Context, name string) ([]*models.Task, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteTaskColumns+`
		FROM tasks WHERE complete = 0 AND (?1 = '' OR name = ?1)
		ORDER BY created_at ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateScheduledTask stores a scheduled task shadow record.
func (s *SQLiteStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, description, start_at, interval_seconds, repeat_count, progress, message, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID.String(), task.Name, task.Description, task.Start.UTC(), task.Interval, task.Repeat, task.Progress, task.Message, task.Cancelled)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

const sqliteScheduledTaskColumns = `id, name, description, start_at, interval_seconds, repeat_count, progress, message, cancelled`

func scanSQLiteScheduledTask(row scanner) (*models.ScheduledTask, error) {
	t := &models.ScheduledTask{}
	var repeat sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Start, &t.Interval, &repeat, &t.Progress, &t.Message, &t.Cancelled)
	if err != nil {
		return nil, err
	}
	if repeat.Valid {
		n := int(repeat.Int64)
		t.Repeat = &n
	}
	return t, nil
}

// GetScheduledTask retrieves a scheduled task by job id.
func (s *SQLiteStore) GetScheduledTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	defer observeSQLite(time.Now())

	t, err := scanSQLiteScheduledTask(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteScheduledTaskColumns+` FROM scheduled_tasks WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// UpdateScheduledTaskProgress stores the outcome of the latest run.
func (s *SQLiteStore) UpdateScheduledTaskProgress(ctx context.Context, id uuid.UUID, progress int, message string) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET progress = ?, message = ? WHERE id = ?`, progress, message, id.String())
	return err
}

// CancelScheduledTask marks a scheduled task as cancelled.
func (s *SQLiteStore) CancelScheduledTask(ctx context.Context, id uuid.UUID) error {
	defer observeSQLite(time.Now())

	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET cancelled = 1 WHERE id = ?`, id.String())
	return err
}

// ListActiveScheduledTasks returns scheduled tasks that are not cancelled.
func (s *SQLiteStore) ListActiveScheduledTasks(ctx context.Context, name string) ([]*models.ScheduledTask, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteScheduledTaskColumns+`
		FROM scheduled_tasks WHERE cancelled = 0 AND (?1 = '' OR name = ?1)
		ORDER BY start_at ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledTask
	for rows.Next() {
		t, err := scanSQLiteScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateLog stores a log record.
func (s *SQLiteStore) CreateLog(ctx context.Context, log *models.Log) error {
	defer observeSQLite(time.Now())

	fillLogDefaults(log)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (id, message, level, source, platform, logged_at, created_on, log_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID.String(), log.Message, log.Level, log.Source, log.Platform, log.Timestamp.UTC(), log.CreatedOn.UTC(), log.LogFile)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	return nil
}

// ListLogs returns logs created at or after since, filtered by level.
func (s *SQLiteStore) ListLogs(ctx context.Context, since time.Time, levels ...string) ([]*models.Log, error) {
	defer observeSQLite(time.Now())

	query := `
		SELECT id, message, level, source, platform, logged_at, created_on, log_file
		FROM logs WHERE created_on >= ?`
	args := []any{since.UTC()}
	if len(levels) > 0 {
		query += ` AND level IN (?` + strings.Repeat(", ?", len(levels)-1) + `)`
		for _, l := range levels {
			args = append(args, l)
		}
	}
	query += ` ORDER BY created_on ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Log
	for rows.Next() {
		l := &models.Log{}
		var platform sql.NullString
		if err := rows.Scan(&l.ID, &l.Message, &l.Level, &l.Source, &platform, &l.Timestamp, &l.CreatedOn, &l.LogFile); err != nil {
			return nil, err
		}
		if platform.Valid {
			l.Platform = &platform.String
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

var _ DataStore = (*SQLiteStore)(nil)
