package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"spinnrd/internal/accel"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttDisconnectMS   = 250
)

// mqttPublisher is the part of mqtt.Client the frontend uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// dialMQTT connects to the configured broker.
func dialMQTT(cfg MQTTFrontendConfig) (mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// mqttState is the JSON payload published on the state topic.
type mqttState struct {
	Rotation accel.Rotation `json:"rotation"`
	Ts       time.Time      `json:"ts"`
}

// mqttFrontend publishes the rotation name to Topic and, if set, a JSON
// snapshot to StateTopic.
type mqttFrontend struct {
	pub        mqttPublisher
	broker     string
	topic      string
	stateTopic string
	qos        byte
	retain     bool
	now        func() time.Time
}

func newMQTTFrontend(pub mqttPublisher, cfg MQTTFrontendConfig) *mqttFrontend {
	return &mqttFrontend{
		pub:        pub,
		broker:     cfg.Broker,
		topic:      cfg.Topic,
		stateTopic: cfg.StateTopic,
		qos:        byte(cfg.QoS),
		retain:     cfg.Retain,
		now:        time.Now,
	}
}

func (m *mqttFrontend) Name() string { return "mqtt:" + m.broker + "/" + m.topic }

func (m *mqttFrontend) Send(r accel.Rotation) error {
	if err := m.publish(m.topic, r.String()); err != nil {
		return err
	}
	if m.stateTopic == "" {
		return nil
	}
	payload, err := json.Marshal(mqttState{Rotation: r, Ts: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return m.publish(m.stateTopic, payload)
}

func (m *mqttFrontend) publish(topic string, payload interface{}) error {
	token := m.pub.Publish(topic, m.qos, m.retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *mqttFrontend) Close() error {
	m.pub.Disconnect(mqttDisconnectMS)
	return nil
}
