package logging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/models"
)

// LogWriter persists log records.
type LogWriter interface {
	CreateLog(ctx context.Context, log *models.Log) error
}

// System logs msg and stores it as a log row with source "system", so server
// side failures show up next to the ones clients report. Levels error and
// exception carry the stack of err.
func System(ctx context.Context, w LogWriter, logger zerolog.Logger, level string, err error, msg string) {
	ev := logger.Info()
	switch level {
	case models.LevelWarning:
		ev = logger.Warn()
	case models.LevelError, models.LevelException:
		ev = logger.Error().Stack()
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)

	if w == nil {
		return
	}
	text := msg
	if err != nil {
		text = msg + ": " + err.Error()
	}
	row := &models.Log{Message: text, Level: level, Source: "system"}
	if werr := w.CreateLog(ctx, row); werr != nil {
		logger.Error().Err(werr).Msg("error saving system log")
	}
}
