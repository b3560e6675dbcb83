package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/supportbot/internal/models"
)

// ErrActiveActionExists is returned by CreateAction when the conversation
// already has an action awaiting an identifier.
var ErrActiveActionExists = errors.New("conversation already has an active action")

// DataStore defines the interface for persistent storage of conversations,
// actions, task shadow records, logs and the lookup tables.
// PostgresStore, SQLiteStore and MemoryStore implement this interface.
//
// Getters return (nil, nil) when the record does not exist. Every write is
// its own atomic unit; no method spans several record types.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Conversation operations
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]*models.Conversation, error)

	// Message operations
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)

	// Action operations
	GetActiveAction(ctx context.Context, conversationID string) (*models.Action, error)
	CreateAction(ctx context.Context, conversationID string, name models.Intent) (*models.Action, error)
	CompleteAction(ctx context.Context, id uuid.UUID) error

	// Lookup table operations
	FindSales(ctx context.Context, idSale int64) ([]models.Sale, error)
	FindTransactions(ctx context.Context, transactionID int64) ([]models.Transaction, error)
	FindReceipts(ctx context.Context, merchantID int64) ([]models.Receipt, error)
	SeedLookups(ctx context.Context, seed *models.Seed) (int, error)

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error
	CompleteTask(ctx context.Context, id string) error
	ListIncompleteTasks(ctx context.Context, name string) ([]*models.Task, error)

	// Scheduled task operations
	CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
	GetScheduledTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error)
	UpdateScheduledTaskProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	CancelScheduledTask(ctx context.Context, id uuid.UUID) error
	ListActiveScheduledTasks(ctx context.Context, name string) ([]*models.ScheduledTask, error)

	// Log operations
	CreateLog(ctx context.Context, log *models.Log) error
	ListLogs(ctx context.Context, since time.Time, levels ...string) ([]*models.Log, error)
}
