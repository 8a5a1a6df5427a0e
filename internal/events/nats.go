package events

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher forwards events to a NATS subject per event type so external
// indexers can subscribe with wildcards (goldsynth.events.>).
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher connects to NATS and returns a publishing emitter.
func NewNATSPublisher(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "events_nats").Logger()

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	if prefix == "" {
		prefix = "goldsynth.events"
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimRight(prefix, "."),
		logger: log,
	}, nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *NATSPublisher) Emit(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("event", ev.Type).Msg("marshal event")
		return
	}
	subject := p.prefix + "." + ev.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("publish event")
	}
}

var _ Emitter = (*NATSPublisher)(nil)
