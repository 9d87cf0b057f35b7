// Package eventpublish optionally publishes one JetStream message per
// run-lifecycle event (§4.14): fire-and-forget, never surfaced as a run
// failure, entirely absent when no NATS URL is configured.
package eventpublish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind names one run-lifecycle event.
type Kind string

const (
	RunStarted    Kind = "run.started"
	RunWaveClosed Kind = "run.wave.closed"
	RunFinished   Kind = "run.finished"
)

// Event carries the run id, command text, and the counters current at the
// moment the event fired.
type Event struct {
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id"`
	Command   string    `json:"command,omitempty"`
	Total     int       `json:"total"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Timeout   int       `json:"timeout"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes Events to a NATS JetStream subject.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	log     *zap.Logger
}

// Connect dials natsURL and prepares a JetStream context. Returns
// (nil, nil) when natsURL is empty: the caller should treat a nil
// Publisher as "publishing disabled" and skip Publish calls entirely.
func Connect(natsURL, subject string, log *zap.Logger) (*Publisher, error) {
	if natsURL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("eventpublish: connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventpublish: create JetStream context: %w", err)
	}
	return &Publisher{conn: conn, js: js, subject: subject, log: log}, nil
}

// Publish sends evt fire-and-forget: a failure is logged and swallowed,
// never returned to the caller, so a broker outage cannot fail a run.
func (p *Publisher) Publish(evt Event) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn("eventpublish: marshal event failed", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return
	}
	msg := &nats.Msg{Subject: p.subject, Data: payload, Header: make(nats.Header)}
	msg.Header.Set("Event-Kind", string(evt.Kind))
	msg.Header.Set("Run-ID", evt.RunID)

	if _, err := p.js.PublishMsg(msg); err != nil {
		p.log.Warn("eventpublish: publish failed",
			zap.String("kind", string(evt.Kind)),
			zap.String("run_id", evt.RunID),
			zap.Error(err))
	}
}

// Close releases the underlying NATS connection. Safe to call on a nil
// Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
