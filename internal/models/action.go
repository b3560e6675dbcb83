package models

import (
	"time"

	"github.com/google/uuid"
)

// Intent is one of the fixed support topics the bot can help with.
type Intent string

const (
	IntentReceipt      Intent = "receipt"
	IntentChipStatus   Intent = "chip_status"
	IntentZipCode      Intent = "zip_code"
	IntentSales        Intent = "sales"
	IntentTransactions Intent = "transactions"
	IntentTracking     Intent = "tracking"
)

// Action tags an ongoing conversation with the intent it is waiting on.
// A conversation has at most one action with Completed == false.
type Action struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Name           Intent    `json:"name"`
	Completed      bool      `json:"completed"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToMap returns the admin listing shape of the action.
func (a *Action) ToMap(position int) map[string]any {
	return map[string]any{
		"position":        position,
		"id":              a.ID.String(),
		"name":            string(a.Name),
		"completed":       a.Completed,
		"conversation_id": a.ConversationID,
		"timestamp":       a.Timestamp.Format(DisplayTimeLayout),
	}
}
