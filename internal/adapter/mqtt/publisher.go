// Package mqtt connects the poll worker to an MQTT broker acting as a UI
// collaborator: snapshots and on-demand values go out, load/save/flags
// commands come in.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/alunegov/hmi-emu/internal/metrics"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	PublishTimeout time.Duration
	TopicPrefix    string
	BufferSize     int

	// CBFailureThreshold consecutive publish failures open the breaker for
	// CBTimeout.
	CBFailureThreshold uint32
	CBTimeout          time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:          "tcp://localhost:1883",
		ClientID:           "hmi-emu",
		CleanSession:       true,
		QoS:                0,
		KeepAlive:          30 * time.Second,
		ConnectTimeout:     10 * time.Second,
		ReconnectDelay:     5 * time.Second,
		PublishTimeout:     200 * time.Millisecond,
		TopicPrefix:        "hmi",
		BufferSize:         256,
		CBFailureThreshold: 5,
		CBTimeout:          30 * time.Second,
	}
}

// PublisherStats tracks publisher counters.
type PublisherStats struct {
	MessagesPublished atomic.Uint64
	MessagesFailed    atomic.Uint64
	MessagesDropped   atomic.Uint64
	BytesSent         atomic.Uint64
	ReconnectCount    atomic.Uint64
}

type message struct {
	topic   string
	payload []byte
}

// Publisher is a domain.Sink backed by an MQTT broker. PublishSnapshot and
// PublishValue only enqueue; a background goroutine does the network I/O
// behind a circuit breaker, so the poll worker never waits on the broker.
type Publisher struct {
	config  Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	breaker *gobreaker.CircuitBreaker

	mu            sync.RWMutex
	client        pahomqtt.Client
	done          chan struct{}
	subscriptions map[string]pahomqtt.MessageHandler

	connected atomic.Bool
	buffer    chan message
	wg        sync.WaitGroup
	stats     PublisherStats
}

// NewPublisher creates a publisher. No connection is made until Connect.
func NewPublisher(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) *Publisher {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = defaults.KeepAlive
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaults.TopicPrefix
	}
	if config.CBFailureThreshold == 0 {
		config.CBFailureThreshold = defaults.CBFailureThreshold
	}
	if config.CBTimeout <= 0 {
		config.CBTimeout = defaults.CBTimeout
	}

	p := &Publisher{
		config:  config,
		logger:  logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics: metricsReg,
		buffer:  make(chan message, config.BufferSize),

		subscriptions: make(map[string]pahomqtt.MessageHandler),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Timeout:     config.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.CBFailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.metrics.SetMQTTBreakerOpen(to == gobreaker.StateOpen)
			p.logger.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("MQTT circuit breaker state changed")
		},
	})
	return p
}

// Connect starts the publish loop and connects to the broker. An error means
// the first attempt did not complete within the connect timeout; the client
// keeps retrying in the background until Disconnect, and reconnects
// automatically after a lost connection.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetCleanSession(p.config.CleanSession)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectDelay)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(p.config.ReconnectDelay)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)

	client := pahomqtt.NewClient(opts)

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("Connecting to MQTT broker")
	p.start(client)

	if err := waitToken(ctx, client.Connect(), p.config.ConnectTimeout); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, err)
	}
	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// waitToken waits for token to complete, for timeout to pass or for ctx to
// be done, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start installs client and launches the publish loop. Publishing begins
// once onConnect reports the connection.
func (p *Publisher) start(client pahomqtt.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	p.client = client
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.processBuffer()
}

// Disconnect stops the publish loop and closes the connection, aborting any
// connect retries.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	if p.done != nil {
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// SnapshotTopic is where every poll snapshot is published.
func (p *Publisher) SnapshotTopic() string {
	return p.config.TopicPrefix + "/snapshot"
}

// ValueTopic is where on-demand read results for id are published.
func (p *Publisher) ValueTopic(id uint16) string {
	return p.paramTopic(strconv.FormatUint(uint64(id), 10), "value")
}

// ErrorTopic is where rejected commands for id are answered.
func (p *Publisher) ErrorTopic(id string) string {
	return p.paramTopic(id, "error")
}

// CommandTopic returns the subscription filter for command op.
func (p *Publisher) CommandTopic(op string) string {
	return p.paramTopic("+", op)
}

func (p *Publisher) paramTopic(id, leaf string) string {
	return p.config.TopicPrefix + "/params/" + id + "/" + leaf
}

// PublishSnapshot implements domain.Sink.
func (p *Publisher) PublishSnapshot(s domain.Snapshot) {
	p.enqueueJSON(p.SnapshotTopic(), s)
}

// PublishValue implements domain.Sink.
func (p *Publisher) PublishValue(v domain.ValueReport) {
	p.enqueueJSON(p.ValueTopic(v.ID), v)
}

// ErrorReport answers a rejected command.
type ErrorReport struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Error     string    `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`
}

// PublishError reports a rejected command on the parameter's error topic.
func (p *Publisher) PublishError(id, op, requestID string, cause error) {
	p.enqueueJSON(p.ErrorTopic(id), ErrorReport{
		ID:        id,
		Op:        op,
		Error:     cause.Error(),
		RequestID: requestID,
		Time:      time.Now(),
	})
}

func (p *Publisher) enqueueJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to serialize message")
		return
	}
	p.enqueue(message{topic: topic, payload: payload})
}

// enqueue never blocks; when the buffer is full the oldest message is
// dropped.
func (p *Publisher) enqueue(msg message) {
	for {
		select {
		case p.buffer <- msg:
			return
		default:
		}
		select {
		case <-p.buffer:
			p.stats.MessagesDropped.Add(1)
			p.metrics.RecordMQTTPublish(false, 0)
		default:
		}
	}
}

func (p *Publisher) processBuffer() {
	defer p.wg.Done()
	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()
	for {
		select {
		case <-done:
			p.drainBuffer()
			return
		case msg := <-p.buffer:
			p.send(msg)
		}
	}
}

// drainBuffer publishes what is left without waiting for more.
func (p *Publisher) drainBuffer() {
	for {
		select {
		case msg := <-p.buffer:
			p.send(msg)
		default:
			return
		}
	}
}

func (p *Publisher) send(msg message) {
	if err := p.publish(msg.topic, msg.payload); err != nil {
		p.stats.MessagesFailed.Add(1)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			p.logger.Debug().Str("topic", msg.topic).Msg("Publish skipped: circuit breaker open")
			return
		case errors.Is(err, domain.ErrMQTTNotConnected):
			p.logger.Debug().Str("topic", msg.topic).Msg("Publish skipped: not connected")
			return
		}
		p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("Failed to publish message")
	}
}

// publish sends one message through the circuit breaker.
func (p *Publisher) publish(topic string, payload []byte) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil || !p.connected.Load() {
		p.metrics.RecordMQTTPublish(false, 0)
		return domain.ErrMQTTNotConnected
	}

	start := time.Now()
	_, err := p.breaker.Execute(func() (interface{}, error) {
		token := client.Publish(topic, p.config.QoS, false, payload)
		if !token.WaitTimeout(p.config.PublishTimeout) {
			return nil, fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		}
		if token.Error() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
		}
		return nil, nil
	})
	p.metrics.RecordMQTTPublish(err == nil, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	p.stats.MessagesPublished.Add(1)
	p.stats.BytesSent.Add(uint64(len(payload)))
	return nil
}

// Subscribe registers handler for topic. The subscription is remembered and
// issued again on every (re)connect; while disconnected it is only recorded.
func (p *Publisher) Subscribe(topic string, handler pahomqtt.MessageHandler) error {
	p.mu.Lock()
	p.subscriptions[topic] = handler
	client := p.client
	p.mu.Unlock()
	if client == nil || !p.connected.Load() {
		p.logger.Debug().Str("topic", topic).Msg("Subscription deferred until connected")
		return nil
	}
	return p.subscribe(client, topic, handler)
}

func (p *Publisher) subscribe(client pahomqtt.Client, topic string, handler pahomqtt.MessageHandler) error {
	token := client.Subscribe(topic, p.config.QoS, handler)
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return fmt.Errorf("%w: %s: timeout", domain.ErrMQTTSubscribeFailed, topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMQTTSubscribeFailed, topic, token.Error())
	}
	return nil
}

// Unsubscribe removes subscriptions; errors are logged.
func (p *Publisher) Unsubscribe(topics ...string) {
	if len(topics) == 0 {
		return
	}
	p.mu.Lock()
	for _, topic := range topics {
		delete(p.subscriptions, topic)
	}
	client := p.client
	p.mu.Unlock()
	if client == nil || !p.connected.Load() {
		return
	}
	token := client.Unsubscribe(topics...)
	if token.WaitTimeout(p.config.ConnectTimeout) && token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Strs("topics", topics).Msg("Unsubscribe failed")
	}
}

// onConnect runs after the first connect and after every automatic
// reconnect. A clean session loses the broker-side subscriptions, so all of
// them are issued again.
func (p *Publisher) onConnect(client pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")

	p.mu.RLock()
	subs := make(map[string]pahomqtt.MessageHandler, len(p.subscriptions))
	for topic, handler := range p.subscriptions {
		subs[topic] = handler
	}
	p.mu.RUnlock()

	for topic, handler := range subs {
		if err := p.subscribe(client, topic, handler); err != nil {
			p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to restore subscription")
		}
	}
	if len(subs) > 0 {
		p.logger.Info().Int("topics", len(subs)).Msg("Subscriptions restored")
	}
}

func (p *Publisher) onConnectionLost(client pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	p.stats.ReconnectCount.Add(1)
	p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() *PublisherStats {
	return &p.stats
}

// BreakerState returns the circuit breaker state name.
func (p *Publisher) BreakerState() string {
	return p.breaker.State().String()
}

// HealthCheck implements health.Checker.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	if p.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrMQTTPublishFailed)
	}
	return nil
}
