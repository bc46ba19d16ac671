// Package consumer runs durable JetStream consumers over the wallpaper
// stream.
//
// Delivery is at-least-once, so handlers must be idempotent. Malformed
// payloads are acknowledged immediately to avoid poison-pill loops;
// handler errors are redelivered with a delay until MaxDeliver, after
// which the message is terminated and copied to the dead-letter subject.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/events"
)

// Handler processes one decoded event. Returning an error triggers
// redelivery.
type Handler func(ctx context.Context, ev *events.UploadedEvent) error

// Config describes a durable consumer group.
type Config struct {
	// Durable is the consumer group name; all instances sharing it divide
	// the stream between them.
	Durable string `mapstructure:"durable" yaml:"durable"`

	// Subject filters the stream (default events.SubjectUploaded).
	Subject string `mapstructure:"subject" yaml:"subject"`

	// MaxDeliver bounds redeliveries before the message is dead-lettered.
	MaxDeliver int `mapstructure:"max_deliver" yaml:"max_deliver"`

	// NakDelay spaces redeliveries of failed messages.
	NakDelay time.Duration `mapstructure:"nak_delay" yaml:"nak_delay"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Subject == "" {
		c.Subject = events.SubjectUploaded
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
	if c.NakDelay == 0 {
		c.NakDelay = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Durable == "" {
		return fmt.Errorf("consumer requires a durable name")
	}
	return nil
}

// Runner consumes a JetStream stream with a durable consumer group and
// dispatches decoded events to a Handler.
type Runner struct {
	js      jetstream.JetStream
	stream  string
	cfg     Config
	handler Handler
}

// NewRunner creates a Runner over an existing stream.
func NewRunner(js jetstream.JetStream, stream string, cfg Config, handler Handler) (*Runner, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("consumer requires a handler")
	}
	return &Runner{js: js, stream: stream, cfg: cfg, handler: handler}, nil
}

// Run creates (or resumes) the durable consumer and processes messages
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	cons, err := r.js.CreateOrUpdateConsumer(ctx, r.stream, jetstream.ConsumerConfig{
		Durable:       r.cfg.Durable,
		FilterSubject: r.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    r.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure consumer %q: %w", r.cfg.Durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		r.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming %q: %w", r.cfg.Durable, err)
	}
	defer cc.Stop()

	logger.Info("Consumer started",
		"durable", r.cfg.Durable,
		logger.KeySubject, r.cfg.Subject)

	<-ctx.Done()
	logger.Info("Consumer stopped", "durable", r.cfg.Durable)
	return nil
}

func (r *Runner) dispatch(ctx context.Context, msg jetstream.Msg) {
	ev, err := events.DecodeUploaded(msg.Data())
	if err != nil {
		// Redelivering a payload that cannot decode would loop forever.
		logger.Warn("Dropping malformed event",
			logger.KeySubject, msg.Subject(),
			logger.KeyError, err)
		if ackErr := msg.Ack(); ackErr != nil {
			logger.Warn("Failed to ack malformed event", logger.KeyError, ackErr)
		}
		return
	}

	if tp := msg.Headers().Get(events.HeaderTraceParent); tp != "" {
		ctx = events.WithTraceParent(ctx, tp)
	}

	if err := r.handler(ctx, ev); err != nil {
		if IsMalformed(err) {
			logger.Warn("Dropping semantically invalid event",
				logger.KeyEventID, ev.EventID,
				logger.KeyError, err)
			if ackErr := msg.Ack(); ackErr != nil {
				logger.Warn("Failed to ack invalid event", logger.KeyError, ackErr)
			}
			return
		}
		r.retryOrBury(ctx, msg, ev, err)
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Warn("Failed to ack event",
			logger.KeyEventID, ev.EventID,
			logger.KeyError, err)
	}
}

// retryOrBury schedules a redelivery, or on the final delivery copies the
// message to the dead-letter subject and terminates it.
func (r *Runner) retryOrBury(ctx context.Context, msg jetstream.Msg, ev *events.UploadedEvent, cause error) {
	meta, err := msg.Metadata()
	if err == nil && int(meta.NumDelivered) >= r.cfg.MaxDeliver {
		logger.Error("Event exhausted deliveries, dead-lettering",
			logger.KeyEventID, ev.EventID,
			"deliveries", meta.NumDelivered,
			logger.KeyError, cause)
		r.deadLetter(ctx, msg, ev)
		if termErr := msg.Term(); termErr != nil {
			logger.Warn("Failed to terminate event", logger.KeyError, termErr)
		}
		return
	}

	logger.Warn("Event handling failed, scheduling redelivery",
		logger.KeyEventID, ev.EventID,
		logger.KeyError, cause)
	if nakErr := msg.NakWithDelay(r.cfg.NakDelay); nakErr != nil {
		logger.Warn("Failed to nak event", logger.KeyError, nakErr)
	}
}

func (r *Runner) deadLetter(ctx context.Context, msg jetstream.Msg, ev *events.UploadedEvent) {
	dead := &nats.Msg{
		Subject: events.SubjectDeadLetter,
		Data:    msg.Data(),
		Header:  nats.Header{},
	}
	if tp := msg.Headers().Get(events.HeaderTraceParent); tp != "" {
		dead.Header.Set(events.HeaderTraceParent, tp)
	}
	// Dead-letter copies reuse the event id, so a crash between this
	// publish and the Term cannot duplicate the copy.
	if _, err := r.js.PublishMsg(ctx, dead, jetstream.WithMsgID("dlq-"+ev.EventID)); err != nil {
		logger.Error("Failed to dead-letter event",
			logger.KeyEventID, ev.EventID,
			logger.KeyError, err)
	}
}

// IsMalformed reports whether an error marks a payload that should never
// be redelivered.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}

// MalformedError wraps handler-level validation failures that must be
// acknowledged instead of redelivered.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return fmt.Sprintf("malformed event: %v", e.Err) }
func (e *MalformedError) Unwrap() error { return e.Err }
