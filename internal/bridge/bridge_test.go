package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/engine"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/store"
)

type emitted struct {
	Event string
	Data  any
}

type fakeSession struct {
	mu     sync.Mutex
	events []emitted
	joined []string
}

func (f *fakeSession) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event, data})
	return nil
}

func (f *fakeSession) Join(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
}

type published struct {
	ConversationID string
	Event          string
	Data           MessageData
}

type fakePublisher struct {
	mu  sync.Mutex
	out []published
}

func (f *fakePublisher) Publish(ctx context.Context, conversationID, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, _ := data.(MessageData)
	f.out = append(f.out, published{conversationID, event, md})
	return nil
}

func (f *fakePublisher) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.out {
		out = append(out, p.Data.Message)
	}
	return out
}

type fakeGateway struct{}

func (fakeGateway) Lookup(ctx context.Context, intent models.Intent, identifier string) (string, error) {
	return "Chip with ID " + identifier + " is active.\nMessage is 'ok'", nil
}

func newBridge(t *testing.T) (*Bridge, *store.MemoryStore, *fakePublisher) {
	t.Helper()
	s := store.NewMemoryStore()
	eng := engine.New(engine.Deps{Store: s, Gateway: fakeGateway{}, Logger: zerolog.Nop()})
	pub := &fakePublisher{}
	b := New(Deps{
		Engine:       eng,
		Store:        s,
		Publisher:    pub,
		UploadFolder: t.TempDir(),
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local) },
	})
	return b, s, pub
}

func TestSetupWithInvalidID(t *testing.T) {
	b, _, _ := newBridge(t)
	sess := &fakeSession{}

	require.NoError(t, b.Setup(context.Background(), sess, SetupData{ID: ""}))

	require.Len(t, sess.events, 1)
	assert.Equal(t, EventSetupComplete, sess.events[0].Event)
	data := sess.events[0].Data.(map[string]any)
	assert.Equal(t, []map[string]any{{"message": engine.WelcomeMessage, "is_client": false}}, data["messages"])
	assert.Empty(t, sess.joined)
}

func TestSetupReturnsHistory(t *testing.T) {
	b, _, _ := newBridge(t)
	sess := &fakeSession{}
	ctx := context.Background()

	require.NoError(t, b.Setup(ctx, sess, SetupData{ID: "conv-1"}))
	assert.Equal(t, []string{"conv-1"}, sess.joined)

	data := sess.events[0].Data.(map[string]any)
	assert.Equal(t, "conv-1", data["id"])
	msgs := data["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, engine.WelcomeMessage, msgs[0]["message"])
	assert.Equal(t, false, msgs[0]["is_client"])
}

func TestAddEmptyMessage(t *testing.T) {
	b, s, pub := newBridge(t)
	sess := &fakeSession{}

	require.NoError(t, b.AddMessage(context.Background(), sess, MessageData{ID: "conv-1"}))

	require.Len(t, sess.events, 1)
	assert.Equal(t, EventReceivedMessage, sess.events[0].Event)
	assert.Equal(t, MessageData{ID: "conv-1", Message: EmptyMessagePrompt}, sess.events[0].Data)
	assert.Empty(t, pub.out)

	convs, err := s.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAddMessageFullFlow(t *testing.T) {
	b, s, pub := newBridge(t)
	sess := &fakeSession{}
	ctx := context.Background()

	require.NoError(t, b.AddMessage(ctx, sess, MessageData{ID: "conv-1", Message: "my CHIP is broken"}))
	assert.Equal(t, []string{"Please provide your Chip ID"}, pub.messages())

	require.NoError(t, b.AddMessage(ctx, sess, MessageData{ID: "conv-1", Message: "CHIP37648"}))
	got := pub.messages()
	require.Len(t, got, 3)
	assert.Equal(t, "Chip with ID CHIP37648 is active.\nMessage is 'ok'\n"+engine.ClosingMessage, got[1])
	assert.Equal(t, engine.WelcomeMessage, got[2])

	for _, p := range pub.out {
		assert.Equal(t, "conv-1", p.ConversationID)
		assert.Equal(t, EventReceivedMessage, p.Event)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	require.NoError(t, err)
	var bodies []string
	for _, m := range msgs {
		bodies = append(bodies, string(m.Sender)+": "+m.Body)
	}
	assert.Equal(t, []string{
		"system: " + engine.WelcomeMessage,
		"client: my CHIP is broken",
		"system: Please provide your Chip ID",
		"client: CHIP37648",
		"system: Chip with ID CHIP37648 is active.\nMessage is 'ok'\n" + engine.ClosingMessage,
		"system: " + engine.WelcomeMessage,
	}, bodies)
}

func TestReplyAlreadyPersisted(t *testing.T) {
	b, s, pub := newBridge(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ConversationID: "conv-1", Body: "hello", Sender: models.SenderClient}))

	reply, err := b.Reply(ctx, "conv-1", "hello", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "For better service delivery"))
	assert.Len(t, pub.out, 1)

	msgs, err := s.GetMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "client line is not saved twice")
	assert.Equal(t, models.SenderSystem, msgs[1].Sender)
}

func TestReplyWithInvalidConversation(t *testing.T) {
	b, _, pub := newBridge(t)

	reply, err := b.Reply(context.Background(), strings.Repeat("x", 51), "hello", false)
	require.NoError(t, err)
	assert.Equal(t, engine.PersistenceFailure, reply)
	assert.Equal(t, []string{engine.PersistenceFailure}, pub.messages())
}

func TestPing(t *testing.T) {
	b, _, _ := newBridge(t)
	sess := &fakeSession{}
	require.NoError(t, b.Ping(sess))
	assert.Equal(t, []emitted{{EventPong, nil}}, sess.events)
}

func TestAddLogDefaults(t *testing.T) {
	b, s, _ := newBridge(t)
	ctx := context.Background()

	require.NoError(t, b.AddLog(ctx, LogData{Message: "opened chat", Source: "app"}))

	logs, err := s.ListLogs(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LevelInfo, logs[0].Level)
	assert.Equal(t, b.now(), logs[0].Timestamp)
	assert.Empty(t, logs[0].LogFile)
	assert.Nil(t, logs[0].Platform)
}

func TestAddLogSpoolsStackTrace(t *testing.T) {
	b, s, _ := newBridge(t)
	ctx := context.Background()
	platform := "android"

	require.NoError(t, b.AddLog(ctx, LogData{
		Message:    "null check",
		Source:     "chat_screen",
		Platform:   &platform,
		Level:      "error",
		Timestamp:  "Tuesday Feb 13, 2024 04:05 PM",
		StackTrace: "#0 main.dart:12",
	}))

	logs, err := s.ListLogs(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	l := logs[0]
	assert.Equal(t, time.Date(2024, 2, 13, 16, 5, 0, 0, time.Local), l.Timestamp)
	assert.Equal(t, filepath.Join(b.uploads, "flutter", "error", "error_2024_02_13.log"), l.LogFile)

	raw, err := os.ReadFile(l.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "null check from chat_screen on platform android\n#0 main.dart:12")
}

func TestAddLogLevelCannotEscapeSpool(t *testing.T) {
	b, s, _ := newBridge(t)
	ctx := context.Background()

	require.NoError(t, b.AddLog(ctx, LogData{Message: "m", Level: "../../etc", StackTrace: "trace"}))

	logs, err := s.ListLogs(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, strings.HasPrefix(logs[0].LogFile, filepath.Join(b.uploads, "flutter")+string(filepath.Separator)))
}

func TestHandleDispatches(t *testing.T) {
	b, _, pub := newBridge(t)
	sess := &fakeSession{}
	ctx := context.Background()

	frame := func(event string, data any) Envelope {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		return Envelope{Event: event, Data: raw}
	}

	b.Handle(ctx, sess, frame(EventSetup, SetupData{ID: "conv-9"}))
	b.Handle(ctx, sess, frame(EventAddMessage, MessageData{ID: "conv-9", Message: "where is my sale"}))
	b.Handle(ctx, sess, Envelope{Event: EventPing})
	b.Handle(ctx, sess, Envelope{Event: "unknown"})

	require.Len(t, sess.events, 2)
	assert.Equal(t, EventSetupComplete, sess.events[0].Event)
	assert.Equal(t, EventPong, sess.events[1].Event)
	assert.Equal(t, []string{"Please provide your Sale ID"}, pub.messages())
}
