// Package publish delivers replayed payloads to a NATS subject.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// publisher is the part of *nats.Conn a Sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes each payload as one NATS message.
type Sink struct {
	pub     publisher
	subject string
}

// Send implements replay.Sink.
func (s *Sink) Send(payload string) error {
	return s.pub.Publish(s.subject, []byte(payload))
}

// Publisher owns a NATS connection and the sink writing to it.
type Publisher struct {
	*Sink
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	nc, err := nats.Connect(url, nats.Name("txreplay"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	logger.Info("connected to NATS", slog.String("url", url), slog.String("subject", subject))
	return &Publisher{
		Sink:   &Sink{pub: nc, subject: subject},
		nc:     nc,
		logger: logger,
	}, nil
}

// Close drains and closes the NATS connection, flushing pending messages.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.logger.Info("NATS connection drained and closed")
	return err
}

// Subscribe calls handler for every message on subject until ctx is done.
func Subscribe(ctx context.Context, url, subject string, handler func([]byte)) error {
	nc, err := nats.Connect(url, nats.Name("txreplay-client"))
	if err != nil {
		return fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
