package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/engine"
)

const publishTimeout = 3 * time.Second

// publisher is the part of mqtt.Client the feed needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes record-flow snapshots as retained JSON messages
// from its own goroutine, so observers never wait on the broker. Snapshots
// beyond the configured rate are coalesced: only the latest is sent, on the
// next allowed tick. Terminal states are always sent at once.
type MQTTPublisher struct {
	client  publisher
	topic   string
	limiter *rate.Limiter
	log     logrus.FieldLogger

	mu      sync.Mutex
	pending *engine.Snapshot
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	sent uint64 // owned by loop
}

// NewMQTTPublisher connects to the broker in cfg.
func NewMQTTPublisher(cfg config.MQTTConfig, log logrus.FieldLogger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is not set")
	}
	log = log.WithField("service", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" || cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("mqtt connected")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg.Topic, cfg.Rate, log), nil
}

func newMQTTPublisher(client publisher, topic string, perSecond float64, log logrus.FieldLogger) *MQTTPublisher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	p := &MQTTPublisher{
		client:  client,
		topic:   topic,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

// Observe is an engine.Flow subscriber. It only records s and returns.
func (p *MQTTPublisher) Observe(s engine.Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.pending == nil || s.Seq > p.pending.Seq {
		p.pending = &s
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *MQTTPublisher) take() *engine.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.pending
	p.pending = nil
	return s
}

func (p *MQTTPublisher) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			if s := p.take(); s != nil {
				p.send(*s)
			}
			return
		case <-p.wake:
		}
		s := p.take()
		if s == nil {
			continue
		}
		if !s.State.Terminal() {
			s = p.throttle(s)
		}
		p.send(*s)
	}
}

// throttle waits for the limiter's next token and returns the newest
// snapshot seen meanwhile. A terminal snapshot ends the wait early.
func (p *MQTTPublisher) throttle(s *engine.Snapshot) *engine.Snapshot {
	d := p.limiter.Reserve().Delay()
	if d <= 0 {
		return s
	}
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return newer(s, p.take())
		case <-p.quit:
			return newer(s, p.take())
		case <-p.wake:
			s = newer(s, p.take())
			if s.State.Terminal() {
				return s
			}
		}
	}
}

func newer(a, b *engine.Snapshot) *engine.Snapshot {
	if b != nil && b.Seq > a.Seq {
		return b
	}
	return a
}

// send publishes s unless a newer snapshot already went out.
func (p *MQTTPublisher) send(s engine.Snapshot) {
	if s.Seq <= p.sent {
		return
	}
	p.sent = s.Seq

	payload, err := json.Marshal(s)
	if err != nil {
		p.log.WithError(err).Error("mqtt: encode snapshot")
		return
	}
	token := p.client.Publish(p.topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.WithField("state", s.State).Warn("mqtt: publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		p.log.WithError(err).WithField("state", s.State).Warn("mqtt: publish failed")
	}
}

// Close sends a snapshot still waiting, stops the publishing goroutine and
// disconnects.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	<-p.done
	if c, ok := p.client.(interface{ Disconnect(quiesce uint) }); ok {
		c.Disconnect(250)
	}
}
