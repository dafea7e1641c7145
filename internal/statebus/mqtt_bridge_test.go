package statebus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Connect() mqtt.Token    { return doneToken{} }
func (f *fakeClient) Disconnect(uint)        {}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return doneToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return doneToken{}
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token        { return doneToken{} }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	h(f, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeClient) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return true }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestBridge(t *testing.T) (*MQTTBridge, *Memory, *fakeClient) {
	t.Helper()
	bus := NewMemory(func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) })
	client := newFakeClient()
	b := newMQTTBridge(MQTTConfig{
		TopicPrefix: "home",
		Inbound:     []string{"mower.activity"},
		Outbound:    []string{"gomow.*"},
		Commands:    []string{"mower.command"},
		Requests:    []string{"gomow.stop_mowing"},
	}, bus, client)
	b.subscribeInbound()
	b.Start()
	t.Cleanup(b.Close)
	return b, bus, client
}

func TestBridgeInboundTelemetryIsAcknowledged(t *testing.T) {
	_, bus, client := newTestBridge(t)

	client.deliver(t, "home/mower/activity", `"OK_CUTTING"`)
	st, ok := bus.Read("mower.activity")
	if !ok || st.Value != "OK_CUTTING" || !st.Ack {
		t.Fatalf("unexpected activity state: %+v", st)
	}
}

func TestBridgeRequestIsUnacknowledged(t *testing.T) {
	_, bus, client := newTestBridge(t)

	var got []State
	bus.Subscribe("gomow.stop_mowing", Commands, func(_ string, _, cur State) {
		got = append(got, cur)
	})
	client.deliver(t, "home/gomow/stop_mowing/set", "true")
	if len(got) != 1 || got[0].Value != true || got[0].Ack {
		t.Fatalf("expected one unacknowledged request, got %+v", got)
	}
	for _, p := range client.sent() {
		if p.topic == "home/gomow/stop_mowing" {
			t.Fatalf("request echoed before the controller acknowledged it: %+v", p)
		}
	}
}

func TestBridgeCommandsGoToSetTopic(t *testing.T) {
	_, bus, client := newTestBridge(t)

	bus.Write("mower.command", 3600, false)
	bus.Write("mower.command", 3600, false)
	bus.Write("mower.command", "PARK_UNTIL_FURTHER_NOTICE", true)

	sent := client.sent()
	if len(sent) != 2 {
		t.Fatalf("expected every unacknowledged write forwarded, got %+v", sent)
	}
	for _, p := range sent {
		if p.topic != "home/mower/command/set" || p.retained {
			t.Fatalf("unexpected command publish: %+v", p)
		}
		if string(p.payload) != "3600" {
			t.Fatalf("unexpected command payload: %s", p.payload)
		}
	}
}

func TestBridgeOutboundRetainedOnAckChange(t *testing.T) {
	_, bus, client := newTestBridge(t)

	bus.Write("gomow.next_start", int64(1714557600000), true)
	bus.Write("gomow.next_start", int64(1714557600000), true)
	bus.Write("gomow.next_start", int64(1714561200000), false)
	bus.Write("gomow.reason", "SCHEDULE", true)

	sent := client.sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 retained publishes, got %+v", sent)
	}
	if sent[0].topic != "home/gomow/next_start" || !sent[0].retained {
		t.Fatalf("unexpected publish: %+v", sent[0])
	}
	var reason string
	if err := json.Unmarshal(sent[1].payload, &reason); err != nil || reason != "SCHEDULE" {
		t.Fatalf("unexpected reason payload %s: %v", sent[1].payload, err)
	}
	if sent[1].topic != "home/gomow/reason" || !sent[1].retained {
		t.Fatalf("unexpected publish: %+v", sent[1])
	}
}
