// Package publish streams applied audit records to NATS JetStream for
// downstream consumers (reporting, reconciliation, alerting). Publishing is
// best-effort: the record log in Postgres is the source of truth, so a
// dropped or failed publish is logged and counted, never retried at the cost
// of blocking the engine.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/record"
)

const streamName = "PRECOG_LEDGER_RECORDS"

// Publisher drains a record channel and publishes each record to
// precog.ledger.records.{record_type}.{symbol}.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan record.Record
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan record.Record, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		metrics: metrics,
		log:     observability.NewLogger("publisher"),
	}
}

// Run publishes records until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info().Str("stream", streamName).Msg("outbound publisher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, rec); err != nil {
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
				p.log.Warn().Err(err).
					Uint64("sequence", rec.Sequence).
					Str("type", rec.Type.String()).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("precog.ledger.records.%s", subjectToken(rec.Type.String()))
	if rec.Symbol != "" {
		subject = fmt.Sprintf("%s.%s", subject, subjectToken(rec.Symbol))
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// subjectToken lowercases a value for use as a NATS subject token.
func subjectToken(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ".", "_"))
}

// Connect dials NATS with indefinite reconnects and opens a JetStream
// context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("publisher")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the outbound records stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"precog.ledger.records.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
