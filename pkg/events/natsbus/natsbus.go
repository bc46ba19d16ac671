// Package natsbus implements the event bus port on NATS JetStream.
//
// The stream is created (or updated) at startup with the wallpaper subject
// wildcard; publishes carry the event id as the JetStream message id so the
// broker deduplicates redeliveries inside its dedup window.
package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/events"
)

// Config is the configuration needed for the NATS event bus.
type Config struct {
	// URL of the NATS server (NATS_URL).
	URL string `mapstructure:"url" yaml:"url"`

	// Stream is the JetStream stream name (NATS_STREAM, default WALLPAPER).
	Stream string `mapstructure:"stream" yaml:"stream"`

	// ConnectTimeout bounds the initial connection retry loop.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "WALLPAPER"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
}

// Bus implements events.Bus over a JetStream stream.
type Bus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect dials NATS with exponential backoff, ensures the stream exists
// and returns the bus. The stream keeps all wallpaper.> subjects.
func Connect(ctx context.Context, cfg Config) (*Bus, error) {
	cfg.ApplyDefaults()

	var conn *nats.Conn

	dial := func() error {
		var err error
		conn, err = nats.Connect(
			cfg.URL,
			nats.Name("wallpaperd"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Error("nats connection lost", "error", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats connection restored")
			}),
		)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectTimeout
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("connection to nats server at %q failed: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{events.SubjectWildcard},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %q: %w", cfg.Stream, err)
	}

	return &Bus{conn: conn, js: js, stream: cfg.Stream}, nil
}

// JetStream exposes the underlying JetStream context for consumers.
func (b *Bus) JetStream() jetstream.JetStream {
	return b.js
}

// Stream returns the stream name.
func (b *Bus) Stream() string {
	return b.stream
}

func (b *Bus) Publish(ctx context.Context, subject string, ev *events.UploadedEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if tp := events.TraceParentFrom(ctx); tp != "" {
		msg.Header.Set(events.HeaderTraceParent, tp)
	}

	// The event id doubles as the JetStream message id, so a republish of
	// the same event inside the dedup window is collapsed by the broker.
	_, err = b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(ev.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func (b *Bus) Healthcheck(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection is down")
	}
	_, err := b.js.Stream(ctx, b.stream)
	return err
}

func (b *Bus) Close() error {
	return b.conn.Drain()
}

// Compile-time interface check
var _ events.Bus = (*Bus)(nil)
