package emitter

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	messages     []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestMQTT_PublishesLifecycleEvents(t *testing.T) {
	client := &fakeClient{}
	e := New(client, "attention", zap.NewNop())

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	e.Emit(Event{Type: ClassroomCreated, ClassroomCode: "FCS-1234", UserID: "t1", Owner: true, At: at})
	e.Emit(Event{Type: MemberJoined, ClassroomCode: "FCS-1234", UserID: "s1", At: at})
	e.Close()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.messages, 2)
	assert.Equal(t, "attention/classrooms/FCS-1234/classroom-created", client.messages[0].topic)
	assert.Equal(t, byte(1), client.messages[0].qos)
	assert.Equal(t, "attention/classrooms/FCS-1234/member-joined", client.messages[1].topic)
	assert.True(t, client.disconnected)

	var ev Event
	require.NoError(t, json.Unmarshal(client.messages[1].payload, &ev))
	assert.Equal(t, "s1", ev.UserID)
	assert.True(t, ev.At.Equal(at))
}

func TestMQTT_EmitAfterCloseIsDropped(t *testing.T) {
	client := &fakeClient{}
	e := New(client, "p", zap.NewNop())
	e.Close()
	e.Close()
	assert.NotPanics(t, func() { e.Emit(Event{Type: MemberLeft, ClassroomCode: "FCS-1"}) })
	assert.Empty(t, client.messages)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}
