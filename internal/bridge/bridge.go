// Package bridge connects chat clients to the conversation engine: it
// answers websocket events, publishes replies to every client following a
// conversation and stores the diagnostics clients report.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/engine"
	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/store"
)

// EmptyMessagePrompt answers a blank chat line.
const EmptyMessagePrompt = "Please enter your message"

// Deps are the collaborators of a Bridge.
type Deps struct {
	Engine    *engine.Engine
	Store     store.DataStore
	Publisher Publisher
	// UploadFolder receives spooled client stack traces.
	UploadFolder string
	Logger       zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Bridge handles chat events.
type Bridge struct {
	engine    *engine.Engine
	store     store.DataStore
	publisher Publisher
	uploads   string
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a bridge.
func New(d Deps) *Bridge {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	uploads := d.UploadFolder
	if uploads == "" {
		uploads = "./uploads"
	}
	return &Bridge{
		engine:    d.Engine,
		store:     d.Store,
		publisher: d.Publisher,
		uploads:   uploads,
		logger:    d.Logger.With().Str("component", "bridge").Logger(),
		now:       now,
	}
}

// Handle dispatches one client frame.
func (b *Bridge) Handle(ctx context.Context, s Session, env Envelope) {
	var err error
	switch env.Event {
	case EventSetup:
		var data SetupData
		if err = decode(env.Data, &data); err == nil {
			err = b.Setup(ctx, s, data)
		}
	case EventAddMessage:
		var data MessageData
		if err = decode(env.Data, &data); err == nil {
			err = b.AddMessage(ctx, s, data)
		}
	case EventPing:
		err = b.Ping(s)
	case EventAddLog:
		var data LogData
		if err = decode(env.Data, &data); err == nil {
			err = b.AddLog(ctx, data)
		}
	default:
		b.logger.Debug().Str("event", env.Event).Msg("unknown event")
		return
	}
	if err != nil {
		b.logger.Error().Err(err).Str("event", env.Event).Msg("error handling event")
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Setup sends the conversation history and subscribes the session to it.
// An unusable id gets only the welcome line.
func (b *Bridge) Setup(ctx context.Context, s Session, data SetupData) error {
	messages := []map[string]any{{"message": engine.WelcomeMessage, "is_client": false}}

	if _, err := b.engine.RetrieveOrCreateConversation(ctx, data.ID); err == nil {
		s.Join(data.ID)
		history, err := b.store.GetMessages(ctx, data.ID)
		if err != nil {
			b.logger.Error().Err(err).Str("conversation_id", data.ID).Msg("error loading messages")
		} else {
			messages = models.MessageMaps(history)
		}
	}

	return s.Emit(EventSetupComplete, map[string]any{"messages": messages, "id": data.ID})
}

// AddMessage runs a client message through the engine.
func (b *Bridge) AddMessage(ctx context.Context, s Session, data MessageData) error {
	if engine.ValidConversationID(data.ID) {
		s.Join(data.ID)
	}
	if data.Message == "" {
		return s.Emit(EventReceivedMessage, MessageData{ID: data.ID, Message: EmptyMessagePrompt})
	}
	_, err := b.Reply(ctx, data.ID, data.Message, false)
	return err
}

// Reply answers body on behalf of the system, stores the reply and
// publishes it. A resolved request is followed by a fresh welcome so the
// customer can start over.
func (b *Bridge) Reply(ctx context.Context, conversationID, body string, alreadyPersisted bool) (string, error) {
	reply, err := b.engine.InitiateConversation(ctx, body, conversationID, alreadyPersisted)
	if err != nil {
		b.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("conversation turn failed")
		reply = engine.UserMessage(err)
	}

	if err := b.say(ctx, conversationID, reply); err != nil {
		return reply, err
	}
	if strings.Contains(reply, "Thank") {
		if err := b.say(ctx, conversationID, engine.WelcomeMessage); err != nil {
			return reply, err
		}
	}
	return reply, nil
}

// say stores a system line and publishes it. A storage failure is logged;
// the customer still sees the line.
func (b *Bridge) say(ctx context.Context, conversationID, text string) error {
	if err := b.engine.RecordMessage(ctx, conversationID, text, models.SenderSystem); err != nil {
		b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("error saving system message")
	}
	return b.publisher.Publish(ctx, conversationID, EventReceivedMessage, MessageData{ID: conversationID, Message: text})
}

// Ping answers a keepalive.
func (b *Bridge) Ping(s Session) error {
	return s.Emit(EventPong, nil)
}

// AddLog stores a client diagnostic. A stack trace is also appended to a
// daily file under <uploads>/flutter/<level>/.
func (b *Bridge) AddLog(ctx context.Context, data LogData) error {
	level := data.Level
	if level == "" {
		level = models.LevelInfo
	}

	ts := b.now()
	if data.Timestamp != "" {
		parsed, err := time.ParseInLocation(models.DisplayTimeLayout, data.Timestamp, time.Local)
		if err != nil {
			b.logger.Warn().Err(err).Str("timestamp", data.Timestamp).Msg("unparseable log timestamp, using now")
		} else {
			ts = parsed
		}
	}

	row := &models.Log{
		Message:   data.Message,
		Level:     level,
		Source:    data.Source,
		Platform:  data.Platform,
		Timestamp: ts,
	}
	if data.StackTrace != "" {
		file, err := b.spool(data, level, ts)
		if err != nil {
			b.logger.Error().Err(err).Msg("error spooling stack trace")
		} else {
			row.LogFile = file
		}
	}

	metrics.ClientLogs.WithLabelValues(level).Inc()
	if err := b.store.CreateLog(ctx, row); err != nil {
		return fmt.Errorf("save client log: %w", err)
	}
	return nil
}

func (b *Bridge) spool(data LogData, level string, ts time.Time) (string, error) {
	dir := filepath.Join(b.uploads, "flutter", safeSegment(level))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Join(dir, "error_"+ts.Format("2006_01_02")+".log")

	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	platform := "unknown"
	if data.Platform != nil && *data.Platform != "" {
		platform = *data.Platform
	}
	_, err = fmt.Fprintf(f, "%s - ERROR - %s from %s on platform %s\n%s\n",
		b.now().Format(time.RFC3339), data.Message, data.Source, platform, data.StackTrace)
	if err != nil {
		return "", err
	}
	return name, nil
}

// safeSegment keeps a client supplied level from leaving the spool folder.
func safeSegment(s string) string {
	s = filepath.Base(filepath.Clean("/" + s))
	if s == "/" || s == "." || s == "" {
		return models.LevelInfo
	}
	return s
}
