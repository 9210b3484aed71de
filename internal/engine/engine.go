// Package engine implements the guided conversation for recording
// blood-pressure readings as an explicit per-user state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/tonometer/internal/conversation"
	"github.com/Veraticus/tonometer/internal/metrics"
	"github.com/Veraticus/tonometer/internal/series"
)

// DateLayout is the user-facing date format, dd.mm.yyyy.
const DateLayout = "02.01.2006"

// Hours a time-of-day choice resolves to.
const (
	MorningHour = 8
	EveningHour = 20
)

var (
	restartPattern = regexp.MustCompile(`(?i)^/?(re)?start$`)
	datePattern    = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
)

// SeriesStore is the durable history the engine writes readings to.
type SeriesStore interface {
	Upsert(ctx context.Context, userID string, timestamp time.Time, value string) error
	Export(ctx context.Context, userID string) ([]byte, error)
}

// turn is the input and scratch state of one message being handled.
type turn struct {
	userID  string
	input   string
	session conversation.SessionContext
}

// rule is one row of the transition table. Rules for a state are tried in
// order and the first match wins; the last rule of every state matches anything.
type rule struct {
	name  string
	match func(input string) bool
	apply func(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error)
}

// Engine maps (state, input) to (effect, next state) for each user.
type Engine struct {
	store    SeriesStore
	sessions conversation.Registry
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
	table    map[conversation.State][]rule
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used to resolve "today" and "yesterday".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocation sets the zone dates and hours are resolved in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.With(slog.String("component", "engine"))
		}
	}
}

// New creates an engine over a series store and a session registry.
func New(store SeriesStore, sessions conversation.Registry, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("series store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	e := &Engine{
		store:    store,
		sessions: sessions,
		now:      time.Now,
		location: time.Local,
		logger:   slog.Default().With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table = e.transitions()

	return e, nil
}

// transitions builds the dispatch table.
func (e *Engine) transitions() map[conversation.State][]rule {
	fallback := rule{name: "recover", match: anything, apply: e.recoverToMenu}

	return map[conversation.State][]rule{
		conversation.StateChoosing: {
			{name: "today", match: isTimeOfDay, apply: e.chooseToday},
			{name: "yesterday", match: equals(ButtonYesterday), apply: e.chooseYesterday},
			{name: "other-day", match: equals(ButtonOtherDay), apply: e.chooseOtherDay},
			{name: "download", match: equals(ButtonDownload), apply: e.download},
			fallback,
		},
		conversation.StateAwaitingSpecificDate: {
			{name: "date", match: datePattern.MatchString, apply: e.enterDate},
			fallback,
		},
		conversation.StateAwaitingTimeOfDay: {
			{name: "time-of-day", match: isTimeOfDay, apply: e.chooseTimeOfDay},
			fallback,
		},
		conversation.StateAwaitingMeasurement: {
			{name: "measurement", match: isText, apply: e.recordMeasurement},
			fallback,
		},
	}
}

// Handle processes one inbound message for userID and returns the reply.
// Storage failures produce a failure reply and are also returned as the error.
func (e *Engine) Handle(ctx context.Context, userID, text string) (Reply, error) {
	session, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return e.failure(), fmt.Errorf("failed to load session for %s: %w", userID, err)
	}

	t := &turn{
		userID:  userID,
		input:   strings.TrimSpace(text),
		session: session,
	}

	reply, next, name, turnErr := e.dispatch(ctx, t)
	metrics.ObserveTurn(session.State.String(), turnErr)

	e.logger.DebugContext(ctx, "turn handled",
		slog.String("user", userID),
		slog.String("from", session.State.String()),
		slog.String("rule", name),
		slog.String("to", next.State.String()),
	)

	if err := e.save(ctx, userID, next); err != nil {
		e.logger.WarnContext(ctx, "failed to save session",
			slog.String("user", userID),
			slog.Any("error", err),
		)
		// Whatever the turn stored stays stored, so the reply still holds once
		// the user is back at the menu. A flow that cannot continue starts over.
		if next.State != conversation.StateChoosing {
			reply = Reply{Text: PromptRecovery, Keyboard: MainMenu(), State: conversation.StateChoosing}
		}
		return reply, errors.Join(turnErr, fmt.Errorf("failed to save session for %s: %w", userID, err))
	}

	return reply, turnErr
}

// save stores next, dropping the context entirely once the user is back at
// the main menu with nothing pending.
func (e *Engine) save(ctx context.Context, userID string, next conversation.SessionContext) error {
	if next.State == conversation.StateChoosing && !next.HasPendingDate() {
		return e.sessions.Reset(ctx, userID)
	}
	return e.sessions.Put(ctx, userID, next)
}

// dispatch evaluates the global restart fallback, then the rules of the current state.
func (e *Engine) dispatch(ctx context.Context, t *turn) (Reply, conversation.SessionContext, string, error) {
	if restartPattern.MatchString(t.input) {
		reply, next, err := e.start(ctx, t)
		return reply, next, "start", err
	}

	rules, ok := e.table[t.session.State]
	if !ok {
		reply, next, err := e.recoverToMenu(ctx, t)
		return reply, next, "recover", err
	}

	for _, r := range rules {
		if !r.match(t.input) {
			continue
		}

		reply, next, err := r.apply(ctx, t)
		if err != nil && series.IsStorageError(err) {
			e.logger.WarnContext(ctx, "storage failure",
				slog.String("user", t.userID),
				slog.String("rule", r.name),
				slog.Any("error", err),
			)
			return e.failure(), conversation.NewSessionContext(), r.name, err
		}
		return reply, next, r.name, err
	}

	// Unreachable while every state ends with a catch-all rule.
	reply, next, err := e.recoverToMenu(ctx, t)
	return reply, next, "recover", err
}

func (e *Engine) start(_ context.Context, _ *turn) (Reply, conversation.SessionContext, error) {
	return Reply{
		Text:     PromptGreeting,
		Keyboard: MainMenu(),
		State:    conversation.StateChoosing,
	}, conversation.NewSessionContext(), nil
}

func (e *Engine) recoverToMenu(_ context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	metrics.Recoveries.WithLabelValues(t.session.State.String()).Inc()
	return Reply{
		Text:     PromptRecovery,
		Keyboard: MainMenu(),
		State:    conversation.StateChoosing,
	}, conversation.NewSessionContext(), nil
}

func (e *Engine) failure() Reply {
	return Reply{
		Text:     PromptStorageFailure,
		Keyboard: MainMenu(),
		State:    conversation.StateChoosing,
	}
}

// chooseToday fixes both the date and the hour immediately.
func (e *Engine) chooseToday(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	t.session.PendingDate = e.today()
	return e.chooseTimeOfDay(ctx, t)
}

// chooseYesterday fixes the date only; the hour is asked for next.
func (e *Engine) chooseYesterday(_ context.Context, _ *turn) (Reply, conversation.SessionContext, error) {
	return Reply{
			Text:     PromptTimeOfDay,
			Keyboard: TimeOfDayMenu(),
			State:    conversation.StateAwaitingTimeOfDay,
		}, conversation.SessionContext{
			State:       conversation.StateAwaitingTimeOfDay,
			PendingDate: e.today().AddDate(0, 0, -1),
		}, nil
}

func (e *Engine) chooseOtherDay(_ context.Context, _ *turn) (Reply, conversation.SessionContext, error) {
	return Reply{
		Text:  PromptSpecificDate,
		State: conversation.StateAwaitingSpecificDate,
	}, conversation.SessionContext{State: conversation.StateAwaitingSpecificDate}, nil
}

func (e *Engine) download(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	next := conversation.NewSessionContext()

	data, err := e.store.Export(ctx, t.userID)
	if errors.Is(err, series.ErrNotFound) {
		return Reply{State: conversation.StateChoosing}, next, nil
	}
	if err != nil {
		return Reply{}, next, fmt.Errorf("failed to export readings: %w", err)
	}

	return Reply{
		State: conversation.StateChoosing,
		Attachment: &Attachment{
			Filename:    t.userID + ".csv",
			ContentType: "text/csv",
			Data:        data,
		},
	}, next, nil
}

func (e *Engine) enterDate(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	date, err := e.parseDate(t.input)
	if err != nil {
		e.logger.DebugContext(ctx, "unparseable date", slog.String("user", t.userID), slog.Any("error", err))
		return e.recoverToMenu(ctx, t)
	}

	return Reply{
			Text:     PromptTimeOfDay,
			Keyboard: TimeOfDayMenu(),
			State:    conversation.StateAwaitingTimeOfDay,
		}, conversation.SessionContext{
			State:       conversation.StateAwaitingTimeOfDay,
			PendingDate: date,
		}, nil
}

// chooseTimeOfDay resolves Morning or Evening onto the pending date.
func (e *Engine) chooseTimeOfDay(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	if !t.session.HasPendingDate() {
		return e.recoverToMenu(ctx, t)
	}

	hour := MorningHour
	if t.input == ButtonEvening {
		hour = EveningHour
	}
	d := t.session.PendingDate.In(e.location)
	resolved := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, e.location)

	return Reply{
			Text:  fmt.Sprintf("Your %s pressure?", strings.ToLower(t.input)),
			State: conversation.StateAwaitingMeasurement,
		}, conversation.SessionContext{
			State:       conversation.StateAwaitingMeasurement,
			PendingDate: resolved,
		}, nil
}

func (e *Engine) recordMeasurement(ctx context.Context, t *turn) (Reply, conversation.SessionContext, error) {
	if !t.session.HasPendingDate() {
		return e.recoverToMenu(ctx, t)
	}

	if err := e.store.Upsert(ctx, t.userID, t.session.PendingDate, t.input); err != nil {
		return Reply{}, conversation.NewSessionContext(), fmt.Errorf("failed to store reading: %w", err)
	}

	e.logger.InfoContext(ctx, "reading recorded",
		slog.String("user", t.userID),
		slog.Time("timestamp", t.session.PendingDate),
	)

	return Reply{
		Text:     PromptDone,
		Keyboard: MainMenu(),
		State:    conversation.StateChoosing,
	}, conversation.NewSessionContext(), nil
}

// today returns midnight of the current day in the engine's zone.
func (e *Engine) today() time.Time {
	now := e.now().In(e.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
}

func (e *Engine) parseDate(input string) (time.Time, error) {
	date, err := time.ParseInLocation(DateLayout, input, e.location)
	if err != nil {
		return time.Time{}, &ParseError{Input: input, Err: err}
	}
	return date, nil
}

func anything(string) bool {
	return true
}

func equals(want string) func(string) bool {
	return func(input string) bool {
		return input == want
	}
}

func isTimeOfDay(input string) bool {
	return input == ButtonMorning || input == ButtonEvening
}

// isText reports whether input is plain text rather than a bot command.
func isText(input string) bool {
	return input != "" && !strings.HasPrefix(input, "/")
}
