package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/theme"
)

// StyledLogger wraps slog.Logger with Theme-aware formatting
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProvider(msg string, provider string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Provider.Sprint(provider))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithProvider(msg string, provider string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Provider.Sprint(provider))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithProvider(msg string, provider string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Provider.Sprint(provider))
	sl.logger.Error(styledMsg, args...)
}

// InfoBreakerState logs a breaker transition with the state coloured by severity.
func (sl *StyledLogger) InfoBreakerState(msg string, provider string, state domain.BreakerState, args ...any) {
	var stateColor pterm.Color
	var stateText string

	switch state {
	case domain.BreakerClosed:
		stateColor = sl.Theme.Healthy
		stateText = "closed"
	case domain.BreakerOpen:
		stateColor = sl.Theme.Tripped
		stateText = "open"
	case domain.BreakerHalfOpen:
		stateColor = sl.Theme.Probing
		stateText = "half-open"
	default:
		stateColor = sl.Theme.Unknown
		stateText = string(state)
	}
	styledMsg := fmt.Sprintf("%s %s is now %s", msg, sl.Theme.Provider.Sprint(provider), pterm.Style{stateColor}.Sprint(stateText))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithRequestID attaches the correlation id carried through every log line for
// a request.
func (sl *StyledLogger) WithRequestID(requestID string) *StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	lg, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(lg, appTheme)

	return lg, styledLogger, cleanup, nil
}

// NewDiscard returns a styled logger that drops everything. Test helper.
func NewDiscard() *StyledLogger {
	return NewStyledLogger(slog.New(discardHandler{}), theme.Default())
}
