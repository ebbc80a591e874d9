// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beeker1121/goque"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/internal"
)

// ErrOutboxDisabled is returned when no MQTT broker is configured.
var ErrOutboxDisabled = errors.New("outbox is disabled, no MQTT broker configured")

type outboxMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Outbox pushes resource changes and dispatched commands toward the charge
// point network over MQTT. Messages go through an on-disk queue first, so a
// broker outage delays delivery instead of losing it.
type Outbox struct {
	queue       *goque.Queue
	mqttClient  MQTT.Client
	topicPrefix string
	enabled     bool
}

// NewOutbox opens the queue and connects to the broker. An empty brokerURL
// yields a disabled outbox whose publish methods return ErrOutboxDisabled.
func NewOutbox(queuePath string, brokerURL string, clientID string, password string, topicPrefix string) (*Outbox, error) {
	if brokerURL == "" {
		zap.S().Infof("No MQTT broker configured, outbox disabled")
		return &Outbox{}, nil
	}

	queue, err := goque.OpenQueue(queuePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox queue at %s: %w", queuePath, err)
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	if password != "" {
		opts.SetUsername(clientID)
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c MQTT.Client) {
		optionsReader := c.OptionsReader()
		zap.S().Infof("Connected to MQTT broker as %s", optionsReader.ClientID())
	})
	opts.SetConnectionLostHandler(func(c MQTT.Client, err error) {
		zap.S().Warnf("MQTT connection lost: %s", err)
	})

	mqttClient := MQTT.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", brokerURL, token.Error())
	}

	o := &Outbox{
		queue:       queue,
		mqttClient:  mqttClient,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		enabled:     true,
	}
	go o.drain()
	return o, nil
}

// Run consumes resource-change and command-update events from the bus and
// enqueues push notifications for them.
func (o *Outbox) Run(bus *Bus) {
	if !o.enabled {
		return
	}
	go func() {
		for event := range bus.Subscribe("outbox", 1024) {
			if event.Type != ResourceChanged && event.Type != CommandUpdate {
				continue
			}
			topic := fmt.Sprintf("%s/push/%s/%s/%s",
				o.topicPrefix, event.Party.CountryCode, event.Party.PartyID, event.Resource)
			if err := o.enqueue(topic, event); err != nil {
				zap.S().Errorf("Failed to enqueue push notification: %s", err)
			}
		}
	}()
}

// PublishCommand enqueues a dispatched command toward the CPO network.
func (o *Outbox) PublishCommand(ctx context.Context, cmdType models.CommandType, commandID string, payload interface{}) error {
	if !o.enabled {
		return ErrOutboxDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/commands/%s/%s", o.topicPrefix, cmdType, commandID)
	return o.enqueue(topic, payload)
}

func (o *Outbox) enqueue(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	message, err := json.Marshal(outboxMessage{Topic: topic, Payload: body})
	if err != nil {
		return err
	}
	_, err = o.queue.Enqueue(message)
	return err
}

// drain moves queued messages to the broker. A failed publish is re-enqueued
// so nothing is lost across broker outages.
func (o *Outbox) drain() {
	var retries int64
	for {
		item, err := o.queue.Dequeue()
		if err != nil {
			if errors.Is(err, goque.ErrEmpty) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			zap.S().Errorf("Failed to dequeue outbox message: %s", err)
			time.Sleep(time.Second)
			continue
		}

		var message outboxMessage
		if err := json.Unmarshal(item.Value, &message); err != nil {
			zap.S().Errorf("Dropping undecodable outbox message: %s", err)
			continue
		}

		token := o.mqttClient.Publish(message.Topic, 1, false, []byte(message.Payload))
		if token.Wait() && token.Error() != nil {
			zap.S().Warnf("Failed to publish to %s, re-enqueueing: %s", message.Topic, token.Error())
			if _, err := o.queue.Enqueue(item.Value); err != nil {
				zap.S().Errorf("Failed to re-enqueue outbox message: %s", err)
			}
			retries++
			internal.SleepBackedOff(retries, 100*time.Millisecond, 30*time.Second)
			continue
		}
		retries = 0
	}
}

// Shutdown disconnects the broker and closes the queue.
func (o *Outbox) Shutdown() {
	if !o.enabled {
		return
	}
	o.mqttClient.Disconnect(1000)
	if err := o.queue.Close(); err != nil {
		zap.S().Errorf("Error closing outbox queue: %v", err)
	}
}
