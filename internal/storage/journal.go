package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"goldsynth/internal/events"
)

// Journal persists emitted events into the database. Failures are logged and
// swallowed: event emission must never fail the originating operation.
type Journal struct {
	store   EventStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewJournal builds a database-backed event emitter.
func NewJournal(store EventStore, logger zerolog.Logger) *Journal {
	return &Journal{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "event_journal").Logger(),
	}
}

func (j *Journal) Emit(ev events.Event) {
	payload, err := json.Marshal(ev.Fields)
	if err != nil {
		j.logger.Error().Err(err).Str("event", ev.Type).Msg("marshal event payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	rec := EventRecord{
		ID:      ev.ID.String(),
		Type:    ev.Type,
		User:    ev.User,
		At:      ev.At,
		Payload: payload,
	}
	if err := j.store.InsertEvent(ctx, rec); err != nil {
		j.logger.Error().Err(err).Str("event", ev.Type).Msg("journal event")
	}
}

var _ events.Emitter = (*Journal)(nil)
