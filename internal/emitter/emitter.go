// Package emitter publishes classroom lifecycle events to an MQTT broker so other
// services can follow classrooms without holding a websocket.
package emitter

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Lifecycle event types.
const (
	ClassroomCreated = "classroom-created"
	ClassroomEnded   = "classroom-ended"
	MemberJoined     = "member-joined"
	MemberLeft       = "member-left"
)

// Event is one lifecycle notification. Attentiveness samples are never emitted.
type Event struct {
	Type          string    `json:"type"`
	ClassroomCode string    `json:"classCode"`
	UserID        string    `json:"userId,omitempty"`
	Owner         bool      `json:"owner,omitempty"`
	At            time.Time `json:"at"`
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ev Event)
	Close()
}

// Noop discards events. Used when MQTT_BROKER is empty.
type Noop struct{}

func (Noop) Emit(Event) {}
func (Noop) Close()     {}

const (
	publishTimeout = 2 * time.Second
	queueSize      = 256
)

// MQTT publishes events to <prefix>/classrooms/<code>/<type> with QoS 1 from a
// single background goroutine.
type MQTT struct {
	client mqtt.Client
	prefix string
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// Connect dials broker (host:port or a full URL) and starts the publisher.
func Connect(broker, clientID, prefix string, log *zap.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return New(client, prefix, log), nil
}

// New wraps an already configured client.
func New(client mqtt.Client, prefix string, log *zap.Logger) *MQTT {
	e := &MQTT{
		client: client,
		prefix: prefix,
		log:    log,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues ev; when the queue is full the event is dropped with a warning.
func (e *MQTT) Emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.log.Warn("mqtt emitter queue full, event dropped",
			zap.String("type", ev.Type), zap.String("classroom_code", ev.ClassroomCode))
	}
}

// Close flushes queued events and disconnects.
func (e *MQTT) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	if e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info("mqtt disconnected")
	}
}

// Topic returns the topic an event is published to.
func (e *MQTT) Topic(ev Event) string {
	return fmt.Sprintf("%s/classrooms/%s/%s", e.prefix, ev.ClassroomCode, ev.Type)
}

func (e *MQTT) run() {
	defer close(e.done)
	for ev := range e.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			e.log.Error("mqtt event marshal failed", zap.Error(err))
			continue
		}
		topic := e.Topic(ev)
		token := e.client.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			e.log.Warn("mqtt publish timeout", zap.String("topic", topic))
			continue
		}
		if err := token.Error(); err != nil {
			e.log.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		e.log.Debug("lifecycle event published", zap.String("topic", topic))
	}
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if len(broker) >= len(scheme) && broker[:len(scheme)] == scheme {
			return broker
		}
	}
	return "tcp://" + broker
}
