package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/mail"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/store"
)

// ErrorEmailSubject is the subject of the error digest sent to admins.
const ErrorEmailSubject = "InfinitePay System Failure"

// Replier answers a client message on behalf of the system and delivers the
// reply to connected clients.
type Replier interface {
	Reply(ctx context.Context, conversationID, body string, alreadyPersisted bool) (string, error)
}

// RunnerDeps are the collaborators of the task bodies.
type RunnerDeps struct {
	Store        store.DataStore
	Orchestrator *Orchestrator
	Replier      Replier
	// Mailer is nil when no mail server is configured.
	Mailer mail.Sender
	Admins []string
	Sender string
	HTTP   *resty.Client
	// SweepInterval is how often the unanswered message sweep repeats.
	SweepInterval time.Duration
	// ErrorWindow is how far back the error email looks.
	ErrorWindow time.Duration
	Logger      zerolog.Logger
}

// Runner holds the bodies of the registered tasks.
type Runner struct {
	d      RunnerDeps
	logger zerolog.Logger
}

// NewRunner creates the task bodies.
func NewRunner(d RunnerDeps) *Runner {
	if d.HTTP == nil {
		d.HTTP = resty.New().SetTimeout(JobTimeout)
	}
	if d.SweepInterval <= 0 {
		d.SweepInterval = defaultInterval
	}
	if d.ErrorWindow <= 0 {
		d.ErrorWindow = 24 * time.Hour
	}
	return &Runner{d: d, logger: d.Logger.With().Str("component", "tasks").Logger()}
}

// Funcs maps every registered task name to its body, for the worker.
func (r *Runner) Funcs() map[string]queue.Func {
	return map[string]queue.Func{
		TaskErrorEmail: r.sendErrorEmail,
		TaskSweep:      r.handleUnhandledMessages,
		TaskEmail:      r.sendEmail,
		TaskCountWords: r.countWordsAtURL,
	}
}

// handleUnhandledMessages answers every conversation whose last message
// came from the client. Launched at startup, it then reschedules itself to
// repeat forever.
func (r *Runner) handleUnhandledMessages(ctx context.Context, job *queue.Job) (map[string]any, error) {
	convs, err := r.d.Store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	answered := 0
	for _, c := range convs {
		last, err := r.d.Store.LastMessage(ctx, c.ConversationID)
		if err != nil {
			r.logger.Error().Err(err).Str("conversation_id", c.ConversationID).Msg("error loading last message")
			continue
		}
		if last == nil || !last.IsClient() {
			continue
		}
		if _, err := r.d.Replier.Reply(ctx, c.ConversationID, last.Body, true); err != nil {
			r.logger.Error().Err(err).Str("conversation_id", c.ConversationID).Msg("error answering message")
			continue
		}
		answered++
	}

	if startup, _ := job.Meta["startup"].(bool); startup && r.d.Orchestrator != nil {
		_, err := r.d.Orchestrator.Reschedule(ctx, ScheduleOptions{
			Name:        TaskSweep,
			Description: "Handle unanswered messages",
			Start:       r.d.Orchestrator.now().Add(r.d.SweepInterval),
			Interval:    r.d.SweepInterval,
			Forever:     true,
			Meta:        map[string]any{"startup": false},
		})
		if err != nil {
			r.logger.Error().Err(err).Msg("error rescheduling unanswered message sweep")
		}
	}

	return map[string]any{"answered": answered}, nil
}

// sendEmail delivers the message passed as the single argument.
func (r *Runner) sendEmail(ctx context.Context, job *queue.Job) (map[string]any, error) {
	if r.d.Mailer == nil {
		return map[string]any{"message": "Mail server not configured, email dropped"}, nil
	}
	if len(job.Args) != 1 {
		return nil, fmt.Errorf("send email: want one message argument, got %d", len(job.Args))
	}
	msg, err := decodeMessage(job.Args[0])
	if err != nil {
		return nil, err
	}
	if err := r.d.Mailer.Send(ctx, msg); err != nil {
		return nil, err
	}
	return nil, nil
}

// sendErrorEmail mails recent error logs to the admins.
func (r *Runner) sendErrorEmail(ctx context.Context, job *queue.Job) (map[string]any, error) {
	if r.d.Mailer == nil || len(r.d.Admins) == 0 {
		return map[string]any{"message": "Mail server not configured, no report sent"}, nil
	}

	since := r.now().Add(-r.d.ErrorWindow)
	logs, err := r.d.Store.ListLogs(ctx, since, models.LevelError, models.LevelException)
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	if len(logs) == 0 {
		return map[string]any{"message": "No failures to report"}, nil
	}

	var b strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&b, "[%s] %s %s", l.Timestamp.Format(models.DisplayTimeLayout), strings.ToUpper(l.Level), l.Message)
		if l.Source != "" {
			fmt.Fprintf(&b, " (from %s)", l.Source)
		}
		b.WriteString("\n")
	}

	err = r.d.Mailer.Send(ctx, &mail.Message{
		Subject:    ErrorEmailSubject,
		Sender:     r.d.Sender,
		Recipients: r.d.Admins,
		TextBody:   b.String(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": fmt.Sprintf("Reported %d failures to administrators", len(logs))}, nil
}

// countWordsAtURL fetches a page and counts its words.
func (r *Runner) countWordsAtURL(ctx context.Context, job *queue.Job) (map[string]any, error) {
	if len(job.Args) == 0 {
		return nil, errors.New("count words: url argument is required")
	}
	url, ok := job.Args[0].(string)
	if !ok || url == "" {
		return nil, errors.New("count words: url argument must be a string")
	}

	resp, err := r.d.HTTP.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}

	words := len(strings.Fields(resp.String()))
	r.logger.Info().Str("url", url).Int("words", words).Msg("counted words")
	return map[string]any{"words": words, "message": fmt.Sprintf("%d words at %s", words, url)}, nil
}

func (r *Runner) now() time.Time {
	if r.d.Orchestrator != nil {
		return r.d.Orchestrator.now()
	}
	return time.Now()
}

// decodeMessage reads a mail message argument back from its JSON form.
func decodeMessage(arg any) (*mail.Message, error) {
	if msg, ok := arg.(*mail.Message); ok {
		return msg, nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("send email: encode argument: %w", err)
	}
	var msg mail.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("send email: decode argument: %w", err)
	}
	return &msg, nil
}
