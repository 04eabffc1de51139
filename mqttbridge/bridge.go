// Package mqttbridge mirrors local bus topics to an MQTT broker.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

type Config struct {
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
	Retained bool
}

// Publisher is the part of mqtt.Client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Subscriber interface {
	Subscribe(topic string, fn func(payload any)) string
	Unsubscribe(topic string, id string)
}

// Dial connects to cfg.Broker with automatic reconnect enabled.
func Dial(cfg Config) (mqtt.Client, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqttbridge: broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "print-host"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqttbridge.connection_lost", "err", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			slog.Info("mqttbridge.connected", "broker", cfg.Broker)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// SetConnectRetry keeps trying in the background
		slog.Warn("mqttbridge.connect.pending", "broker", cfg.Broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbridge: connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Bridge publishes each bus payload as JSON under Prefix, with the dotted
// bus topic turned into an MQTT path.
type Bridge struct {
	client   Publisher
	bus      Subscriber
	prefix   string
	qos      byte
	retained bool

	mu  sync.Mutex
	ids map[string]string
}

func New(client Publisher, b Subscriber, cfg Config) *Bridge {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "print-host"
	}
	return &Bridge{
		client:   client,
		bus:      b,
		prefix:   prefix,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		ids:      make(map[string]string),
	}
}

// TopicFor maps a bus topic such as "printer.state" to "<prefix>/printer/state".
func (br *Bridge) TopicFor(topic string) string {
	return br.prefix + "/" + strings.ReplaceAll(topic, ".", "/")
}

func (br *Bridge) Start(topics ...string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	for _, topic := range topics {
		if _, ok := br.ids[topic]; ok {
			continue
		}
		br.ids[topic] = br.bus.Subscribe(topic, func(payload any) {
			br.publish(topic, payload)
		})
	}
}

func (br *Bridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()
	for topic, id := range br.ids {
		br.bus.Unsubscribe(topic, id)
	}
	clear(br.ids)
}

func (br *Bridge) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("mqttbridge.encode.error", "topic", topic, "err", err)
		return
	}
	target := br.TopicFor(topic)
	token := br.client.Publish(target, br.qos, br.retained, data)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			slog.Warn("mqttbridge.publish.timeout", "topic", target)
			return
		}
		if err := token.Error(); err != nil {
			slog.Warn("mqttbridge.publish.error", "topic", target, "err", err)
		}
	}()
}
