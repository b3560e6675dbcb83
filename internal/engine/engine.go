// Package engine is the support conversation state machine. Each turn either
// selects an intent and asks for its identifier, or treats the message as the
// identifier of the pending intent and resolves it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/gateway"
	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/store"
)

const (
	// WelcomeMessage opens every conversation.
	WelcomeMessage = "Welcome to Infinite Pay support center. How can we be of assistance?"
	// ClosingMessage follows a resolved lookup.
	ClosingMessage = "Thank you for reaching out. Reach out to us whenever you have an issue"
)

// Lookup resolves identifiers of API-backed intents.
type Lookup interface {
	Lookup(ctx context.Context, intent models.Intent, identifier string) (string, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store   store.DataStore
	Gateway Lookup
	Logger  zerolog.Logger
	// Rules defaults to DefaultRules.
	Rules []IntentRule
}

// Engine runs conversation turns. It holds no per-conversation state; all of
// it lives in the store.
type Engine struct {
	store   store.DataStore
	gateway Lookup
	logger  zerolog.Logger
	rules   []IntentRule
}

// New creates an engine.
func New(d Deps) *Engine {
	rules := d.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Engine{
		store:   d.Store,
		gateway: d.Gateway,
		logger:  d.Logger.With().Str("component", "engine").Logger(),
		rules:   rules,
	}
}

// Rules returns the intent table in match order.
func (e *Engine) Rules() []IntentRule {
	return e.rules
}

// ValidConversationID reports whether id can name a conversation.
func ValidConversationID(id string) bool {
	return id != "" && len(id) <= models.MaxConversationIDLength
}

// RetrieveOrCreateConversation returns the conversation for id, creating it
// with a welcome message on first contact.
func (e *Engine) RetrieveOrCreateConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if !ValidConversationID(id) {
		return nil, failure(ErrInvalidConversationID)
	}

	c, err := e.store.GetConversation(ctx, id)
	if err != nil {
		e.logger.Error().Err(err).Str("conversation_id", id).Msg("error loading conversation")
		return nil, failure(err)
	}
	if c != nil {
		return c, nil
	}

	c, err = e.store.CreateConversation(ctx, id)
	if err != nil {
		e.logger.Error().Err(err).Str("conversation_id", id).Msg("error creating conversation")
		return nil, failure(err)
	}

	welcome := &models.Message{ConversationID: id, Body: WelcomeMessage, Sender: models.SenderSystem}
	if err := e.store.AppendMessage(ctx, welcome); err != nil {
		e.logger.Error().Err(err).Str("conversation_id", id).Msg("error saving welcome message")
	} else {
		metrics.ChatMessages.WithLabelValues(string(models.SenderSystem)).Inc()
	}
	return c, nil
}

// RecordMessage appends a message to the conversation, creating the
// conversation if needed. An empty sender means the client.
func (e *Engine) RecordMessage(ctx context.Context, id, body string, sender models.Sender) error {
	if _, err := e.RetrieveOrCreateConversation(ctx, id); err != nil {
		return err
	}
	if sender == "" {
		sender = models.SenderClient
	}

	msg := &models.Message{ConversationID: id, Body: body, Sender: sender}
	if err := e.store.AppendMessage(ctx, msg); err != nil {
		e.logger.Error().Err(err).Str("conversation_id", id).Msg("error saving message")
		return failure(err)
	}
	metrics.ChatMessages.WithLabelValues(string(sender)).Inc()
	return nil
}

// InitiateConversation runs one turn and returns the reply. The returned
// error is always an *Error carrying the reply to show instead.
func (e *Engine) InitiateConversation(ctx context.Context, body, id string, alreadyPersisted bool) (string, error) {
	if !alreadyPersisted {
		if err := e.RecordMessage(ctx, id, body, models.SenderClient); err != nil {
			return "", err
		}
	}

	action, err := e.store.GetActiveAction(ctx, id)
	if err != nil {
		e.logger.Error().Err(err).Str("conversation_id", id).Msg("error loading active action")
		return "", failure(err)
	}
	if action == nil {
		return e.respond(ctx, id, body), nil
	}

	result, err := e.resolve(ctx, action.Name, body)
	if err != nil {
		e.logger.Debug().Err(err).
			Str("conversation_id", id).
			Str("intent", string(action.Name)).
			Msg("identifier not resolved")
		return Reprompt(action.Name), nil
	}

	if err := e.store.CompleteAction(ctx, action.ID); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID.String()).Msg("error completing action")
	}
	return result + "\n" + ClosingMessage, nil
}

// respond classifies a fresh message. A match opens an action for the intent.
func (e *Engine) respond(ctx context.Context, id, body string) string {
	intent, ok := Classify(e.rules, body)
	if !ok {
		return Menu(e.rules)
	}

	metrics.IntentsMatched.WithLabelValues(string(intent)).Inc()
	if _, err := e.store.CreateAction(ctx, id, intent); err != nil {
		// A concurrent turn may have opened the action already.
		level := zerolog.ErrorLevel
		if errors.Is(err, store.ErrActiveActionExists) {
			level = zerolog.WarnLevel
		}
		e.logger.WithLevel(level).Err(err).Str("conversation_id", id).Str("intent", string(intent)).Msg("error saving action")
	}
	return Prompt(intent)
}

// errNotFound is returned by resolve when nothing matched the identifier.
var errNotFound = errors.New("engine: identifier not found")

// resolve looks the identifier up through the gateway or the lookup tables.
// Every failure is reported as not found.
func (e *Engine) resolve(ctx context.Context, intent models.Intent, identifier string) (string, error) {
	if gateway.Supports(intent) {
		if e.gateway == nil {
			return "", errNotFound
		}
		result, err := e.gateway.Lookup(ctx, intent, identifier)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errNotFound, err)
		}
		if result == "" {
			return "", errNotFound
		}
		return result, nil
	}
	return e.queryDatabase(ctx, intent, identifier)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *Engine) queryDatabase(ctx context.Context, intent models.Intent, identifier string) (string, error) {
	if !isNumeric(identifier) {
		return "", errNotFound
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNotFound, err)
	}

	var rows []models.Fielder
	switch intent {
	case models.IntentSales:
		found, qerr := e.store.FindSales(ctx, id)
		err = qerr
		for i := range found {
			rows = append(rows, &found[i])
		}
	case models.IntentTransactions:
		found, qerr := e.store.FindTransactions(ctx, id)
		err = qerr
		for i := range found {
			rows = append(rows, &found[i])
		}
	case models.IntentReceipt:
		found, qerr := e.store.FindReceipts(ctx, id)
		err = qerr
		for i := range found {
			rows = append(rows, &found[i])
		}
	default:
		return "", errNotFound
	}
	if err != nil {
		e.logger.Error().Err(err).Str("intent", string(intent)).Msg("lookup query failed")
		return "", fmt.Errorf("%w: %v", errNotFound, err)
	}
	if len(rows) == 0 {
		return "", errNotFound
	}
	return FormatReport(intent, rows), nil
}

// FormatReport renders lookup rows as a numbered report listing every
// non-empty field.
func FormatReport(intent models.Intent, rows []models.Fielder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following result was found for your %s query\n", intent)
	for i, row := range rows {
		fmt.Fprintf(&b, "\n<b>Result: %d</b>\n\n", i+1)
		var lines []string
		for _, f := range row.Fields() {
			if models.Truthy(f.Value) {
				lines = append(lines, fmt.Sprintf("%s: %v\n", models.Label(f.Key), f.Value))
			}
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}
