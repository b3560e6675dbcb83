package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.DatabaseLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

// GetConversation retrieves a conversation by its client token.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	defer observe(time.Now())

	c := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, creation_date
		FROM conversations WHERE conversation_id = $1
	`, conversationID).Scan(&c.ID, &c.ConversationID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// CreateConversation creates a conversation record. Creating an existing
// conversation returns the stored row.
func (s *PostgresStore) CreateConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	defer observe(time.Now())

	c := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (conversation_id, creation_date)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		RETURNING id, conversation_id, creation_date
	`, conversationID, time.Now().UTC()).Scan(&c.ID, &c.ConversationID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations in creation order.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
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
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	defer observe(time.Now())

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, body, sender, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ConversationID, msg.Body, string(msg.Sender), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetMessages returns the messages of a conversation oldest first.
func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, body, sender, sent_at
		FROM messages WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastMessage returns the most recent message of a conversation.
func (s *PostgresStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	defer observe(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, body, sender, sent_at
		FROM messages WHERE conversation_id = $1
		ORDER BY sent_at DESC, id DESC LIMIT 1
	`, conversationID)
	m, err := scanPgMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func scanPgMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var sender string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Body, &sender, &m.Timestamp); err != nil {
		return nil, err
	}
	m.Sender = models.Sender(sender)
	return m, nil
}

// GetActiveAction returns the uncompleted action of a conversation.
func (s *PostgresStore) GetActiveAction(ctx context.Context, conversationID string) (*models.Action, error) {
	defer observe(time.Now())

	a := &models.Action{}
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, name, completed, created_at
		FROM actions WHERE conversation_id = $1 AND completed = FALSE
		LIMIT 1
	`, conversationID).Scan(&a.ID, &a.ConversationID, &name, &a.Completed, &a.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Name = models.Intent(name)
	return a, nil
}

// CreateAction records a new pending intent. The partial unique index on
// active actions rejects a second one for the same conversation.
func (s *PostgresStore) CreateAction(ctx context.Context, conversationID string, name models.Intent) (*models.Action, error) {
	defer observe(time.Now())

	a := &models.Action{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Name:           name,
		Timestamp:      time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actions (id, conversation_id, name, completed, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`, a.ID, a.ConversationID, string(a.Name), a.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrActiveActionExists
		}
		return nil, fmt.Errorf("create action: %w", err)
	}
	return a, nil
}

// CompleteAction marks an action as completed.
func (s *PostgresStore) CompleteAction(ctx context.Context, id uuid.UUID) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `UPDATE actions SET completed = TRUE WHERE id = $1`, id)
	return err
}

// FindSales returns the sales with the given sale id.
func (s *PostgresStore) FindSales(ctx context.Context, idSale int64) ([]models.Sale, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id_sale, merchant_id, chip_id, created_at, status, description
		FROM sales WHERE id_sale = $1
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
func (s *PostgresStore) FindTransactions(ctx context.Context, transactionID int64) ([]models.Transaction, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT transaction_id, merchant_id, created_at, value
		FROM transactions WHERE transaction_id = $1
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
func (s *PostgresStore) FindReceipts(ctx context.Context, merchantID int64) ([]models.Receipt, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT merchant_id, created_at, status, description, value
		FROM receipts WHERE merchant_id = $1
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
func (s *PostgresStore) SeedLookups(ctx context.Context, seed *models.Seed) (int, error) {
	defer observe(time.Now())

	inserted := 0
	exec := func(sql string, args ...any) error {
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		inserted += int(tag.RowsAffected())
		return nil
	}

	for _, r := range seed.Receipts {
		if err := exec(`
			INSERT INTO receipts (id, merchant_id, created_at, status, description, value)
			SELECT $1, $2, $3, $4, $5, $6
			WHERE NOT EXISTS (
				SELECT 1 FROM receipts WHERE merchant_id = $2 AND created_at = $3
				AND status = $4 AND description = $5 AND value = $6
			)
		`, uuid.New(), r.MerchantID, r.CreatedAt, r.Status, r.Description, r.Value); err != nil {
			return inserted, fmt.Errorf("seed receipts: %w", err)
		}
	}
	for _, v := range seed.Sales {
		if err := exec(`
			INSERT INTO sales (id, id_sale, merchant_id, chip_id, created_at, status, description)
			SELECT $1, $2, $3, $4, $5, $6, $7
			WHERE NOT EXISTS (
				SELECT 1 FROM sales WHERE id_sale = $2 AND merchant_id = $3 AND chip_id = $4
				AND created_at = $5 AND status = $6 AND description = $7
			)
		`, uuid.New(), v.IDSale, v.MerchantID, v.ChipID, v.CreatedAt, v.Status, v.Description); err != nil {
			return inserted, fmt.Errorf("seed sales: %w", err)
		}
	}
	for _, t := range seed.Transactions {
		if err := exec(`
			INSERT INTO transactions (id, transaction_id, merchant_id, created_at, value)
			SELECT $1, $2, $3, $4, $5
			WHERE NOT EXISTS (
				SELECT 1 FROM transactions WHERE transaction_id = $2 AND merchant_id = $3
				AND created_at = $4 AND value = $5
			)
		`, uuid.New(), t.TransactionID, t.MerchantID, t.CreatedAt, t.Value); err != nil {
			return inserted, fmt.Errorf("seed transactions: %w", err)
		}
	}
	return inserted, nil
}

// CreateTask stores a task shadow record.
func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	defer observe(time.Now())

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, name, description, progress, message, complete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.Name, task.Description, task.Progress, task.Message, task.Complete, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by job id.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	defer observe(time.Now())

	t := &models.Task{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, progress, message, complete, created_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Description, &t.Progress, &t.Message, &t.Complete, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// UpdateTaskProgress stores the latest progress and message of a task.
func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `UPDATE tasks SET progress = $2, message = $3 WHERE id = $1`, id, progress, message)
	return err
}

// CompleteTask marks a task as complete.
func (s *PostgresStore) CompleteTask(ctx context.Context, id string) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `UPDATE tasks SET complete = TRUE WHERE id = $1`, id)
	return err
}

// ListIncompleteTasks returns outstanding tasks, optionally for one name.
func (s *PostgresStore) ListIncompleteTasks(ctx context.Context, name string) ([]*models.Task, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, progress, message, complete, created_at
		FROM tasks WHERE complete = FALSE AND ($1 = '' OR name = $1)
		ORDER BY created_at ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Progress, &t.Message, &t.Complete, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateScheduledTask stores a scheduled task shadow record.
func (s *PostgresStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (id, name, description, start_at, interval_seconds, repeat_count, progress, message, cancelled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.Name, task.Description, task.Start, task.Interval, task.Repeat, task.Progress, task.Message, task.Cancelled)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

const pgScheduledTaskColumns = `id, name, description, start_at, interval_seconds, repeat_count, progress, message, cancelled`

func scanPgScheduledTask(row pgx.Row) (*models.ScheduledTask, error) {
	t := &models.ScheduledTask{}
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Start, &t.Interval, &t.Repeat, &t.Progress, &t.Message, &t.Cancelled)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetScheduledTask retrieves a scheduled task by job id.
func (s *PostgresStore) GetScheduledTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	defer observe(time.Now())

	t, err := scanPgScheduledTask(s.pool.QueryRow(ctx,
		`SELECT `+pgScheduledTaskColumns+` FROM scheduled_tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// UpdateScheduledTaskProgress stores the outcome of the latest run.
func (s *PostgresStore) UpdateScheduledTaskProgress(ctx context.Context, id uuid.UUID, progress int, message string) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `UPDATE scheduled_tasks SET progress = $2, message = $3 WHERE id = $1`, id, progress, message)
	return err
}

// CancelScheduledTask marks a scheduled task as cancelled.
func (s *PostgresStore) CancelScheduledTask(ctx context.Context, id uuid.UUID) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `UPDATE scheduled_tasks SET cancelled = TRUE WHERE id = $1`, id)
	return err
}

// ListActiveScheduledTasks returns scheduled tasks that are not cancelled.
func (s *PostgresStore) ListActiveScheduledTasks(ctx context.Context, name string) ([]*models.ScheduledTask, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgScheduledTaskColumns+`
		FROM scheduled_tasks WHERE cancelled = FALSE AND ($1 = '' OR name = $1)
		ORDER BY start_at ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledTask
	for rows.Next() {
		t, err := scanPgScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateLog stores a log record.
func (s *PostgresStore) CreateLog(ctx context.Context, log *models.Log) error {
	defer observe(time.Now())

	fillLogDefaults(log)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO logs (id, message, level, source, platform, logged_at, created_on, log_file)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, log.ID, log.Message, log.Level, log.Source, log.Platform, log.Timestamp, log.CreatedOn, log.LogFile)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	return nil
}

// ListLogs returns logs created at or after since, filtered by level.
func (s *PostgresStore) ListLogs(ctx context.Context, since time.Time, levels ...string) ([]*models.Log, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, message, level, source, platform, logged_at, created_on, log_file
		FROM logs WHERE created_on >= $1 AND (COALESCE(cardinality($2::text[]), 0) = 0 OR level = ANY($2))
		ORDER BY created_on ASC
	`, since, levels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Log
	for rows.Next() {
		l := &models.Log{}
		if err := rows.Scan(&l.ID, &l.Message, &l.Level, &l.Source, &l.Platform, &l.Timestamp, &l.CreatedOn, &l.LogFile); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// fillLogDefaults assigns id and timestamps the caller left unset.
func fillLogDefaults(log *models.Log) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedOn.IsZero() {
		log.CreatedOn = time.Now().UTC()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = log.CreatedOn
	}
	if log.Level == "" {
		log.Level = models.LevelInfo
	}
}

var _ DataStore = (*PostgresStore)(nil)
