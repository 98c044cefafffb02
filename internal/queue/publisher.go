package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/observability/metrics"
)

var (
	// ErrQueueFull is returned when the outbound buffer has no room; the
	// event is dropped.
	ErrQueueFull = errors.New("event buffer full")
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("publisher closed")
)

// PublisherConfig tunes the background sender.
type PublisherConfig struct {
	// Buffer is the number of events held while the broker is slow or down.
	Buffer int
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration
	// RetryAfter is how long a failed dial suppresses further attempts.
	RetryAfter time.Duration
	// SendTimeout bounds one publish on an open channel.
	SendTimeout time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

type outbound struct {
	routingKey string
	msg        amqp.Publishing
}

// Publisher hands events to a single background sender through a bounded
// buffer. Publish never touches the network, so a slow or unreachable
// broker cannot stall callers. The sender owns the connection and
// reconnects lazily after a failure. Safe for concurrent use.
type Publisher struct {
	url string
	cfg PublisherConfig
	log *zap.Logger

	out       chan outbound
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the sender goroutine
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
	retryAt  time.Time
}

// NewPublisher starts the background sender. Close stops it.
func NewPublisher(url string, cfg PublisherConfig, log *zap.Logger) *Publisher {
	p := newPublisher(url, cfg, log)
	go p.run()
	return p
}

func newPublisher(url string, cfg PublisherConfig, log *zap.Logger) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{
		url:      url,
		cfg:      cfg,
		log:      log.Named("publisher"),
		out:      make(chan outbound, cfg.Buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		declared: map[string]bool{},
	}
}

// Publish marshals event to JSON and queues it for persistent delivery to
// the durable queue named routingKey. It does not wait for the broker.
func (p *Publisher) Publish(_ context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	select {
	case <-p.stop:
		return ErrPublisherClosed
	default:
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	select {
	case p.out <- outbound{routingKey: routingKey, msg: msg}:
		return nil
	default:
		metrics.EventsDroppedTotal.WithLabelValues(routingKey, "buffer_full").Inc()
		p.log.Warn("event buffer full, dropping event", zap.String("routing_key", routingKey))
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	defer p.reset()
	for {
		select {
		case <-p.stop:
			return
		case o := <-p.out:
			if err := p.send(o); err != nil {
				metrics.EventsDroppedTotal.WithLabelValues(o.routingKey, "broker").Inc()
				p.log.Warn("event not delivered", zap.String("routing_key", o.routingKey), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) send(o outbound) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if !p.declared[o.routingKey] {
		if _, err := ch.QueueDeclare(o.routingKey, true, false, false, false, nil); err != nil {
			p.reset()
			return fmt.Errorf("queue declare %s: %w", o.routingKey, err)
		}
		p.declared[o.routingKey] = true
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx, "", o.routingKey, false, false, o.msg); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", o.routingKey, err)
	}
	return nil
}

// channel returns the open channel, dialing if needed. After a failed dial
// no new attempt is made until RetryAfter has passed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	if time.Now().Before(p.retryAt) {
		return nil, errors.New("broker unavailable, waiting to redial")
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.cfg.DialTimeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		p.retryAt = time.Now().Add(p.cfg.RetryAfter)
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.retryAt = time.Now().Add(p.cfg.RetryAfter)
		return nil, fmt.Errorf("channel open: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info("connected to broker")
	return ch, nil
}

// reset drops the current connection.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
	p.declared = map[string]bool{}
}

// Close stops the sender and waits for it to exit. Events still buffered
// are dropped. A send in progress is bounded by DialTimeout or
// SendTimeout.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-time.After(p.cfg.DialTimeout + p.cfg.SendTimeout):
		p.log.Warn("publisher did not stop in time")
	}
	return nil
}

// Nop discards every event. Used when the broker is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
