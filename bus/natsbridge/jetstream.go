// Package natsbridge forwards admitted facts from the in-process bus to
// NATS JetStream so other services can consume the change stream.
package natsbridge

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/teranos/factwire/errors"
)

// JetStream wraps a NATS connection with a JetStream context.
type JetStream struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials url and opens JetStream.
func Connect(url string, opts ...nats.Option) (*JetStream, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "open jetstream")
	}
	return &JetStream{conn: nc, js: js}, nil
}

// EnsureStream creates the stream capturing subjects if it does not exist.
func (j *JetStream) EnsureStream(name string, subjects ...string) error {
	if _, err := j.js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return errors.Wrapf(err, "lookup stream %s", name)
	}
	_, err := j.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	return errors.Wrapf(err, "create stream %s", name)
}

// Publish sends data to subject and waits for the JetStream ack.
func (j *JetStream) Publish(ctx context.Context, subject string, data []byte) error {
	if j == nil {
		return errors.New("nil jetstream")
	}
	_, err := j.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// Close drains the connection, falling back to a hard close.
func (j *JetStream) Close() {
	if j == nil {
		return
	}
	if err := j.conn.Drain(); err != nil {
		j.conn.Close()
	}
}
