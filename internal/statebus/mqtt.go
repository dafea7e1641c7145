package statebus

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig maps bus keys onto broker topics.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	// Inbound keys are device telemetry: retained broker values become
	// acknowledged bus writes.
	Inbound []string
	// Outbound patterns are controller values published retained on change.
	Outbound []string
	// Command keys are forwarded to "<topic>/set" on every unacknowledged write.
	Commands []string
	// Request keys accept "<topic>/set" messages as unacknowledged writes, the
	// way a user flips a switch.
	Requests []string
}

// MQTTBridge mirrors bus keys to and from an MQTT broker.
type MQTTBridge struct {
	cfg    MQTTConfig
	bus    Bus
	client mqtt.Client

	mu     sync.Mutex
	unsubs []func()
}

func NewMQTTBridge(cfg MQTTConfig, bus Bus) (*MQTTBridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	b := newMQTTBridge(cfg, bus, nil)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if strings.HasPrefix(cfg.Broker, "ssl://") || strings.HasPrefix(cfg.Broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID(cfg.ClientID))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(_ mqtt.Client) {
		b.subscribeInbound()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	b.client = client
	return b, nil
}

func newMQTTBridge(cfg MQTTConfig, bus Bus, client mqtt.Client) *MQTTBridge {
	return &MQTTBridge{cfg: cfg, bus: bus, client: client}
}

// Start installs the outbound bus subscriptions. Inbound topics are
// (re)subscribed on every broker connect.
func (b *MQTTBridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pattern := range b.cfg.Outbound {
		b.unsubs = append(b.unsubs, b.bus.Subscribe(pattern, AckChanged, b.publishState))
	}
	for _, key := range b.cfg.Commands {
		b.unsubs = append(b.unsubs, b.bus.Subscribe(key, Commands, b.publishCommand))
	}
}

func (b *MQTTBridge) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	if b.client != nil {
		b.client.Disconnect(250)
	}
}

func (b *MQTTBridge) subscribeInbound() {
	for _, key := range b.cfg.Inbound {
		topic := KeyTopic(b.cfg.TopicPrefix, key)
		token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			mqttMessages.WithLabelValues("in").Inc()
			b.bus.Write(key, DecodePayload(msg.Payload()), true)
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", topic, token.Error())
		}
	}
	for _, key := range b.cfg.Requests {
		topic := KeyTopic(b.cfg.TopicPrefix, key) + "/set"
		token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			mqttMessages.WithLabelValues("request").Inc()
			b.bus.Write(key, DecodePayload(msg.Payload()), false)
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", topic, token.Error())
		}
	}
}

func (b *MQTTBridge) publishState(key string, _, cur State) {
	b.publish(KeyTopic(b.cfg.TopicPrefix, key), cur.Value, true)
}

func (b *MQTTBridge) publishCommand(key string, _, cur State) {
	b.publish(KeyTopic(b.cfg.TopicPrefix, key)+"/set", cur.Value, false)
}

func (b *MQTTBridge) publish(topic string, value any, retained bool) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("mqtt: encode %s: %v", topic, err)
		return
	}
	// Do not wait on the token: publishes are fire-and-forget and run on the
	// controller's event goroutine.
	b.client.Publish(topic, 1, retained, payload)
	mqttMessages.WithLabelValues("out").Inc()
}

// KeyTopic maps a dotted bus key to a slash separated topic.
func KeyTopic(prefix, key string) string {
	topic := strings.ReplaceAll(key, ".", "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

// DecodePayload interprets JSON payloads and falls back to the raw string.
func DecodePayload(payload []byte) any {
	var value any
	if err := json.Unmarshal(payload, &value); err == nil {
		return value
	}
	return strings.TrimSpace(string(payload))
}

func clientID(base string) string {
	if base == "" {
		base = "gomow"
	}
	return base + "-" + strings.Split(uuid.NewString(), "-")[0]
}
