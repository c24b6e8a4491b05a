package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubject carries trigger events between validators and aggregators.
const DefaultSubject = "cmz.analytics.triggers"

// NATSEmitter publishes events as JSON. Publishing is buffered by the NATS
// client, so Emit does not wait for the aggregator.
type NATSEmitter struct {
	conn    *nats.Conn
	subject string
}

// NewNATSEmitter publishes on subject ("" uses DefaultSubject).
func NewNATSEmitter(conn *nats.Conn, subject string) *NATSEmitter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSEmitter{conn: conn, subject: subject}
}

// Emit publishes ev; failures are logged and counted.
func (e *NATSEmitter) Emit(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = e.conn.Publish(e.subject, data)
	}
	if err != nil {
		eventsDropped.Add(ctx, 1)
		log.Warn().Err(err).Str("rule_id", ev.RuleID).Str("subject", e.subject).Msg("analytics_publish_failed")
	}
}

// Close flushes pending publishes. The connection is owned by the caller.
func (e *NATSEmitter) Close() error {
	return e.conn.Flush()
}

// Consumer subscribes to trigger events and records them. A queue group
// spreads events across aggregator replicas; replays are absorbed by the
// store's dedup keys.
type Consumer struct {
	sub *nats.Subscription
}

// QueueGroup is the NATS queue group aggregators join.
const QueueGroup = "cmz-analytics"

// Subscribe starts consuming subject into recorder.
func Subscribe(conn *nats.Conn, subject string, recorder Recorder) (*Consumer, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			ingestFailures.Add(context.Background(), 1)
			log.Error().Err(err).Str("subject", msg.Subject).Msg("analytics_event_decode_failed")
			return
		}
		ingest(recorder, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return &Consumer{sub: sub}, nil
}

// Close drains the subscription so in-flight events finish.
func (c *Consumer) Close() error {
	return c.sub.Drain()
}
