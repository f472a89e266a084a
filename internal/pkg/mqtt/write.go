package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
)

// registerMessage is the Home Assistant MQTT discovery config payload.
type registerMessage struct {
	Tilda      string         `json:"~"`
	Name       string         `json:"name"`
	ID         string         `json:"unique_id"`
	StateTopic string         `json:"state_topic"`
	Device     registerDevice `json:"device"`
}

type registerDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

func (s *service) Write(ctx context.Context, values []publisher.SensorValue) error {
	for _, value := range values {
		if err := s.publishValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) publishValue(value publisher.SensorValue) error {
	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/state", value.Identifier, value.Slug)

	payload := map[string]string{
		"value": value.Value,
	}
	if !publisher.TextSensor(value.Slug) {
		payload["unit_of_measurement"] = value.Unit
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, data)
	if token.WaitTimeout(time.Second * 10) {
		return nil
	}
	return token.Error()
}

func (s *service) RegisterDevice(device remi.DeviceSummary) error {
	identifier := publisher.Identifier(device)

	s.mu.Lock()
	if _, exists := s.configuredDevices[identifier]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	payload, err := json.Marshal(defaultRegisterMsg(device, identifier))
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("homeassistant/sensor/%s/config", identifier)

	token := s.client.Publish(topic, 1, true, payload)
	if err := token.Error(); err != nil {
		return err
	}
	if token.WaitTimeout(time.Second * 5) {
		s.mu.Lock()
		s.configuredDevices[identifier] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

func defaultRegisterMsg(device remi.DeviceSummary, identifier string) registerMessage {
	return registerMessage{
		Tilda:      fmt.Sprintf("homeassistant/sensor/%s", identifier),
		Name:       device.Name,
		ID:         identifier,
		StateTopic: "~/state",
		Device: registerDevice{
			Name:         device.Name,
			Identifiers:  []string{identifier},
			Model:        "Rémi Clock",
			Manufacturer: "UrbanHello",
		},
	}
}
