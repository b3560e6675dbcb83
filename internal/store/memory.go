package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/supportbot/internal/models"
)

// MemoryStore keeps every record in process. It backs development runs
// without a database and the package tests of the engine and task layers.
type MemoryStore struct {
	mu sync.RWMutex

	nextConversationID int64
	conversations      map[string]*models.Conversation
	conversationOrder  []string
	messages           map[string][]*models.Message
	actions            []*models.Action
	sales              []models.Sale
	transactions       []models.Transaction
	receipts           []models.Receipt
	tasks              map[string]*models.Task
	taskOrder          []string
	scheduled          map[uuid.UUID]*models.ScheduledTask
	scheduledOrder     []uuid.UUID
	logs               []*models.Log

	// lookups counts Find* calls so tests can assert a query was skipped.
	lookups int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		tasks:         make(map[string]*models.Task),
		scheduled:     make(map[uuid.UUID]*models.ScheduledTask),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// LookupCount returns how many lookup table queries have run.
func (s *MemoryStore) LookupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}

// GetConversation retrieves a conversation by its client token.
func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// CreateConversation creates a conversation record.
func (s *MemoryStore) CreateConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[conversationID]; ok {
		cp := *c
		return &cp, nil
	}
	s.nextConversationID++
	c := &models.Conversation{
		ID:             s.nextConversationID,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
	s.conversations[conversationID] = c
	s.conversationOrder = append(s.conversationOrder, conversationID)
	cp := *c
	return &cp, nil
}

// ListConversations returns all conversations in creation order.
func (s *MemoryStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Conversation, 0, len(s.conversationOrder))
	for _, id := range s.conversationOrder {
		cp := *s.conversations[id]
		out = append(out, &cp)
	}
	return out, nil
}

// AppendMessage stores a message at the end of its conversation.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	cp := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

// GetMessages returns the messages of a conversation in append order.
func (s *MemoryStore) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// LastMessage returns the most recent message of a conversation.
func (s *MemoryStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return nil, nil
	}
	cp := *msgs[len(msgs)-1]
	return &cp, nil
}

// GetActiveAction returns the uncompleted action of a conversation.
func (s *MemoryStore) GetActiveAction(ctx context.Context, conversationID string) (*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.actions {
		if a.ConversationID == conversationID && !a.Completed {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateAction records a new pending intent for a conversation.
func (s *MemoryStore) CreateAction(ctx context.Context, conversationID string, name models.Intent) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if a.ConversationID == conversationID && !a.Completed {
			return nil, ErrActiveActionExists
		}
	}
	a := &models.Action{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Name:           name,
		Timestamp:      time.Now().UTC(),
	}
	s.actions = append(s.actions, a)
	cp := *a
	return &cp, nil
}

// CompleteAction marks an action as completed.
func (s *MemoryStore) CompleteAction(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if a.ID == id {
			a.Completed = true
			return nil
		}
	}
	return nil
}

// FindSales returns the sales with the given sale id.
func (s *MemoryStore) FindSales(ctx context.Context, idSale int64) ([]models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	var out []models.Sale
	for _, sale := range s.sales {
		if sale.IDSale == idSale {
			out = append(out, sale)
		}
	}
	return out, nil
}

// FindTransactions returns the transactions with the given id.
func (s *MemoryStore) FindTransactions(ctx context.Context, transactionID int64) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	var out []models.Transaction
	for _, t := range s.transactions {
		if t.TransactionID == transactionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindReceipts returns the receipts of a merchant.
func (s *MemoryStore) FindReceipts(ctx context.Context, merchantID int64) ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	var out []models.Receipt
	for _, r := range s.receipts {
		if r.MerchantID == merchantID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SeedLookups inserts the fixture rows that are not present yet.
func (s *MemoryStore) SeedLookups(ctx context.Context, seed *models.Seed) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, r := range seed.Receipts {
		if !slices.Contains(s.receipts, r) {
			s.receipts = append(s.receipts, r)
			inserted++
		}
	}
	for _, sale := range seed.Sales {
		if !slices.Contains(s.sales, sale) {
			s.sales = append(s.sales, sale)
			inserted++
		}
	}
	for _, t := range seed.Transactions {
		if !slices.Contains(s.transactions, t) {
			s.transactions = append(s.transactions, t)
			inserted++
		}
	}
	return inserted, nil
}

// CreateTask stores a task shadow record.
func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.tasks[task.ID]; !ok {
		s.taskOrder = append(s.taskOrder, task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

// GetTask retrieves a task by job id.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// UpdateTaskProgress stores the latest progress and message of a task.
func (s *MemoryStore) UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.Progress = progress
		t.Message = message
	}
	return nil
}

// CompleteTask marks a task as complete.
func (s *MemoryStore) CompleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.Complete = true
	}
	return nil
}

// ListIncompleteTasks returns outstanding tasks, optionally for one name.
func (s *MemoryStore) ListIncompleteTasks(ctx context.Context, name string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.Complete || (name != "" && t.Name != name) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// CreateScheduledTask stores a scheduled task shadow record.
func (s *MemoryStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scheduled[task.ID]; !ok {
		s.scheduledOrder = append(s.scheduledOrder, task.ID)
	}
	cp := *task
	s.scheduled[task.ID] = &cp
	return nil
}

// GetScheduledTask retrieves a scheduled task by job id.
func (s *MemoryStore) GetScheduledTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.scheduled[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// UpdateScheduledTaskProgress stores the outcome of the latest run.
func (s *MemoryStore) UpdateScheduledTaskProgress(ctx context.Context, id uuid.UUID, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.scheduled[id]; ok {
		t.Progress = progress
		t.Message = message
	}
	return nil
}

// CancelScheduledTask marks a scheduled task as cancelled.
func (s *MemoryStore) CancelScheduledTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.scheduled[id]; ok {
		t.Cancelled = true
	}
	return nil
}

// ListActiveScheduledTasks returns scheduled tasks that are not cancelled.
func (s *MemoryStore) ListActiveScheduledTasks(ctx context.Context, name string) ([]*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ScheduledTask
	for _, id := range s.scheduledOrder {
		t := s.scheduled[id]
		if t.Cancelled || (name != "" && t.Name != name) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// CreateLog stores a log record.
func (s *MemoryStore) CreateLog(ctx context.Context, log *models.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fillLogDefaults(log)
	cp := *log
	s.logs = append(s.logs, &cp)
	return nil
}

// ListLogs returns logs created at or after since, filtered by level.
func (s *MemoryStore) ListLogs(ctx context.Context, since time.Time, levels ...string) ([]*models.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Log
	for _, l := range s.logs {
		if l.CreatedOn.Before(since) {
			continue
		}
		if len(levels) > 0 && !slices.Contains(levels, l.Level) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

var _ DataStore = (*MemoryStore)(nil)
