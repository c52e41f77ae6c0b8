// Package brokertest provides an in-memory MQTT client for tests.
package brokertest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is an already completed mqtt.Token, or one that completes when
// Release is called.
type Token struct {
	done chan struct{}
	err  error
	once sync.Once
}

// Done returns a completed token carrying err.
func Done(err error) *Token {
	t := Pending(err)
	t.Release()
	return t
}

// Pending returns a token that completes on Release.
func Pending(err error) *Token {
	return &Token{done: make(chan struct{}), err: err}
}

func (t *Token) Release() { t.once.Do(func() { close(t.done) }) }

func (t *Token) Wait() bool {
	<-t.done
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }
func (t *Token) Error() error          { return t.err }

// Message is a received publication.
type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
	Retain    bool
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Client routes publications to subscribers of the exact same topic and
// records everything that was published.
type Client struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []Message
	retained  map[string]Message

	// PublishErr, when set, fails every publish.
	PublishErr error
	// SubscribeErr, when set, fails every subscribe.
	SubscribeErr error
	// Hold, when set, returns pending tokens from Publish; the test
	// releases them.
	Hold    bool
	Pending []*Token
	Offline bool
}

func NewClient() *Client {
	return &Client{
		handlers: make(map[string]mqtt.MessageHandler),
		retained: make(map[string]Message),
	}
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	default:
		return Done(fmt.Errorf("brokertest: unsupported payload %T", payload))
	}

	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return Done(err)
	}
	msg := Message{TopicName: topic, Body: body, QoS: qos, Retain: retained}
	c.published = append(c.published, msg)
	if retained {
		c.retained[topic] = msg
	}
	h := c.handlers[topic]
	var tok *Token
	if c.Hold {
		tok = Pending(nil)
		c.Pending = append(c.Pending, tok)
	} else {
		tok = Done(nil)
	}
	c.mu.Unlock()

	if h != nil {
		h(nil, &msg)
	}
	return tok
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return Done(c.SubscribeErr)
	}
	c.handlers[topic] = callback
	return Done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return Done(nil)
}

func (c *Client) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Offline
}

// SetOffline toggles IsConnectionOpen.
func (c *Client) SetOffline(v bool) {
	c.mu.Lock()
	c.Offline = v
	c.mu.Unlock()
}

// SetHold toggles whether new publish tokens stay pending.
func (c *Client) SetHold(v bool) {
	c.mu.Lock()
	c.Hold = v
	c.mu.Unlock()
}

// ReleaseAll completes every pending publish token.
func (c *Client) ReleaseAll() int {
	c.mu.Lock()
	pending := c.Pending
	c.Pending = nil
	c.mu.Unlock()
	for _, tok := range pending {
		tok.Release()
	}
	return len(pending)
}

// Subscribed reports whether topic has a handler.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Published returns a copy of every publication so far.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Retained returns the retained message on topic.
func (c *Client) Retained(topic string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.retained[topic]
	return m, ok
}

// Inject delivers payload to the subscriber of topic as if it came from
// the broker.
func (c *Client) Inject(topic string, payload []byte) bool {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(nil, &Message{TopicName: topic, Body: payload})
	return true
}
