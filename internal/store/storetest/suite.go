// Package storetest holds the behaviour every store.DataStore backend must
// share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/store"
)

// Run exercises a compliance suite against a store.DataStore implementation.
// makeStore should return a store that is safe to write unique records into.
func Run(t *testing.T, makeStore func(t *testing.T) store.DataStore) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	t.Run("conversations", func(t *testing.T) {
		convID := "c-" + uuid.NewString()[:8]

		got, err := s.GetConversation(ctx, convID)
		require.NoError(t, err)
		assert.Nil(t, got)

		c, err := s.CreateConversation(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, convID, c.ConversationID)
		assert.False(t, c.CreatedAt.IsZero())

		again, err := s.CreateConversation(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, again.ID)

		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		found := false
		for _, item := range list {
			if item.ConversationID == convID {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("messages", func(t *testing.T) {
		convID := "m-" + uuid.NewString()[:8]
		_, err := s.CreateConversation(ctx, convID)
		require.NoError(t, err)

		last, err := s.LastMessage(ctx, convID)
		require.NoError(t, err)
		assert.Nil(t, last)

		base := time.Now().UTC().Truncate(time.Second)
		for i, body := range []string{"hello", "receipt", "12345"} {
			sender := models.SenderClient
			if i == 1 {
				sender = models.SenderSystem
			}
			msg := &models.Message{ConversationID: convID, Body: body, Sender: sender, Timestamp: base.Add(time.Duration(i) * time.Second)}
			require.NoError(t, s.AppendMessage(ctx, msg))
			assert.NotEmpty(t, msg.ID)
		}

		msgs, err := s.GetMessages(ctx, convID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "hello", msgs[0].Body)
		assert.Equal(t, models.SenderSystem, msgs[1].Sender)

		last, err = s.LastMessage(ctx, convID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, "12345", last.Body)
	})

	t.Run("one active action per conversation", func(t *testing.T) {
		convID := "a-" + uuid.NewString()[:8]
		_, err := s.CreateConversation(ctx, convID)
		require.NoError(t, err)

		active, err := s.GetActiveAction(ctx, convID)
		require.NoError(t, err)
		assert.Nil(t, active)

		a, err := s.CreateAction(ctx, convID, models.IntentReceipt)
		require.NoError(t, err)

		_, err = s.CreateAction(ctx, convID, models.IntentSales)
		assert.ErrorIs(t, err, store.ErrActiveActionExists)

		active, err = s.GetActiveAction(ctx, convID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, a.ID, active.ID)
		assert.Equal(t, models.IntentReceipt, active.Name)

		require.NoError(t, s.CompleteAction(ctx, a.ID))
		active, err = s.GetActiveAction(ctx, convID)
		require.NoError(t, err)
		assert.Nil(t, active)

		_, err = s.CreateAction(ctx, convID, models.IntentSales)
		assert.NoError(t, err)
	})

	t.Run("lookups", func(t *testing.T) {
		merchant := time.Now().UnixNano() % 1_000_000_000
		seed := &models.Seed{
			Receipts: []models.Receipt{
				{MerchantID: merchant, CreatedAt: "2023-01-01", Status: "paid", Description: "weekly", Value: 120.5},
			},
			Sales: []models.Sale{
				{IDSale: merchant, MerchantID: merchant, ChipID: 42, CreatedAt: "2023-01-02", Status: "delivered", Description: "machine"},
			},
			Transactions: []models.Transaction{
				{TransactionID: merchant, MerchantID: merchant, CreatedAt: "2023-01-03", Value: 9.99},
			},
		}

		n, err := s.SeedLookups(ctx, seed)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.SeedLookups(ctx, seed)
		require.NoError(t, err)
		assert.Zero(t, n, "seeding twice must not duplicate rows")

		receipts, err := s.FindReceipts(ctx, merchant)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, seed.Receipts[0], receipts[0])

		sales, err := s.FindSales(ctx, merchant)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, seed.Sales[0], sales[0])

		txs, err := s.FindTransactions(ctx, merchant)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, seed.Transactions[0], txs[0])

		none, err := s.FindSales(ctx, merchant+1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("tasks", func(t *testing.T) {
		name := "task-" + uuid.NewString()[:8]
		task := &models.Task{ID: uuid.NewString(), Name: name, Description: "count words"}
		require.NoError(t, s.CreateTask(ctx, task))

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, name, got.Name)
		assert.False(t, got.Complete)

		require.NoError(t, s.UpdateTaskProgress(ctx, task.ID, 100, "Success! Count words completed."))
		require.NoError(t, s.CompleteTask(ctx, task.ID))

		got, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, "Success! Count words completed.", got.Message)
		assert.True(t, got.Complete)

		open := &models.Task{ID: uuid.NewString(), Name: name}
		require.NoError(t, s.CreateTask(ctx, open))
		incomplete, err := s.ListIncompleteTasks(ctx, name)
		require.NoError(t, err)
		require.Len(t, incomplete, 1)
		assert.Equal(t, open.ID, incomplete[0].ID)

		missing, err := s.GetTask(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("scheduled tasks", func(t *testing.T) {
		name := "sched-" + uuid.NewString()[:8]
		repeat := 10
		forever := &models.ScheduledTask{ID: uuid.New(), Name: name, Start: time.Now().UTC().Truncate(time.Second), Interval: 60}
		bounded := &models.ScheduledTask{ID: uuid.New(), Name: name, Start: time.Now().UTC().Truncate(time.Second), Interval: 30, Repeat: &repeat}
		require.NoError(t, s.CreateScheduledTask(ctx, forever))
		require.NoError(t, s.CreateScheduledTask(ctx, bounded))

		got, err := s.GetScheduledTask(ctx, forever.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.Repeat)
		assert.Equal(t, 60, got.Interval)

		got, err = s.GetScheduledTask(ctx, bounded.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Repeat)
		assert.Equal(t, 10, *got.Repeat)

		require.NoError(t, s.UpdateScheduledTaskProgress(ctx, bounded.ID, 100, "done"))
		require.NoError(t, s.CancelScheduledTask(ctx, forever.ID))

		active, err := s.ListActiveScheduledTasks(ctx, name)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, bounded.ID, active[0].ID)
		assert.Equal(t, "done", active[0].Message)

		missing, err := s.GetScheduledTask(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("logs", func(t *testing.T) {
		since := time.Now().UTC().Add(-time.Second)
		platform := "android"
		source := "src-" + uuid.NewString()[:8]
		require.NoError(t, s.CreateLog(ctx, &models.Log{Message: "ok", Level: models.LevelInfo, Source: source}))
		require.NoError(t, s.CreateLog(ctx, &models.Log{Message: "boom", Level: models.LevelError, Source: source, Platform: &platform}))

		errs, err := s.ListLogs(ctx, since, models.LevelError, models.LevelException)
		require.NoError(t, err)
		var mine []*models.Log
		for _, l := range errs {
			if l.Source == source {
				mine = append(mine, l)
			}
		}
		require.Len(t, mine, 1)
		assert.Equal(t, "boom", mine[0].Message)
		require.NotNil(t, mine[0].Platform)
		assert.Equal(t, "android", *mine[0].Platform)

		all, err := s.ListLogs(ctx, since)
		require.NoError(t, err)
		count := 0
		for _, l := range all {
			if l.Source == source {
				count++
			}
		}
		assert.Equal(t, 2, count)
	})
}
