// Package publish fans anomalies out to NATS subscribers.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "motionwatch.anomalies"

// Publisher is the subset of *nats.Conn the publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each anomaly as JSON on <prefix>.<TYPE>.
type NATSPublisher struct {
	conn   Publisher
	nc     *nats.Conn
	prefix string
}

var _ pipeline.PublishSink = (*NATSPublisher)(nil)

// NewPublisher wraps an existing connection. An empty prefix selects
// DefaultSubjectPrefix.
func NewPublisher(conn Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	p := &NATSPublisher{conn: conn, prefix: prefix}
	if nc, ok := conn.(*nats.Conn); ok {
		p.nc = nc
	}
	return p
}

// Connect dials the NATS server at url.
func Connect(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("motionwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewPublisher(nc, prefix), nil
}

// Subject returns the subject anomalies of kind k are published on.
func (p *NATSPublisher) Subject(k anomaly.Kind) string {
	return p.prefix + "." + string(k)
}

// PublishFrame implements pipeline.PublishSink. Every anomaly is attempted;
// the returned error joins all failures.
func (p *NATSPublisher) PublishFrame(res *pipeline.FrameResult) error {
	var errs []error
	for _, a := range res.Anomalies {
		payload, err := json.Marshal(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal anomaly: %w", err))
			continue
		}
		if err := p.conn.Publish(p.Subject(a.Type), payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", a.Type, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and closes the connection when the
// publisher owns a *nats.Conn.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
