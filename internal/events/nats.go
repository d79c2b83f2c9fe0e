package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// DefaultSubjectPrefix is prepended to the event type to form the NATS subject.
const DefaultSubjectPrefix = "bindery.runtime.module"

// Publisher is the subset of a NATS connection used by NATSObserver.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

type natsPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to url (nats.DefaultURL when empty).
func NewNATSPublisher(url string, opts ...nats.Option) (Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts = append([]nats.Option{nats.Name("bindery-runtime")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &natsPublisher{nc: nc}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(subject, payload)
}

func (p *natsPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// NATSObserver forwards lifecycle events as JSON to <prefix>.<event type>.
// Publish failures are logged and otherwise ignored; the event stream is
// best-effort.
type NATSObserver struct {
	pub    Publisher
	prefix string
	log    logr.Logger
}

func NewNATSObserver(pub Publisher, prefix string, log logr.Logger) *NATSObserver {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSObserver{pub: pub, prefix: prefix, log: log.WithName("nats-events")}
}

// Subject returns the subject an event of type t is published on.
func (o *NATSObserver) Subject(t binderyv1alpha1.EventType) string {
	return o.prefix + "." + string(t)
}

func (o *NATSObserver) OnModuleEvent(e binderyv1alpha1.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		o.log.Error(err, "marshal event", "type", e.Type, "module", e.ModuleID)
		return
	}
	if err := o.pub.Publish(context.Background(), o.Subject(e.Type), payload); err != nil {
		o.log.Error(err, "publish event", "type", e.Type, "module", e.ModuleID)
	}
}
