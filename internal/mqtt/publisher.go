package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/sensor"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// Payload is the JSON message published for each reading.
type Payload struct {
	Temperature string `json:"temp"`
	Humidity    string `json:"hum"`
	Timestamp   string `json:"ts"`
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher republishes accepted readings to an MQTT topic.
type Publisher struct {
	client client
	topic  string
	now    func() time.Time
}

// Connect dials the broker and returns a Publisher for topic.
func Connect(broker, clientID, topic string) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}
	logger.Info("Connected to MQTT broker %s, publishing readings to '%s'", broker, topic)
	return newPublisher(c, topic), nil
}

func newPublisher(c client, topic string) *Publisher {
	return &Publisher{client: c, topic: topic, now: time.Now}
}

func (p *Publisher) Name() string { return "mqtt" }

// Publish sends the reading with QoS 0, not retained.
func (p *Publisher) Publish(r sensor.Reading) error {
	payload, err := json.Marshal(Payload{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	logger.Info("Disconnected from MQTT broker.")
}
