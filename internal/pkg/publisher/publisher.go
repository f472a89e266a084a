package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/coordinator"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"go.uber.org/zap"
)

var errAlreadyRegistered = errors.New("publisher already registered")

var (
	mu                   sync.Mutex
	registeredPublishers = make(map[string]Publisher)
	sensors              sync.Map
)

// Publisher is one sink for device state, e.g. the MQTT bridge or the
// Postgres history writer.
type Publisher interface {
	Write(ctx context.Context, values []SensorValue) error
	RegisterDevice(device remi.DeviceSummary) error
}

// SensorValue is one flattened reading from a snapshot.
type SensorValue struct {
	Identifier string
	Slug       string
	Value      string
	Unit       string
	Timestamp  time.Time
}

// TextSensor reports whether a slug carries text rather than a measurement.
func TextSensor(sensorSlug string) bool {
	switch sensorSlug {
	case "face", "online", "ip_address", "firmware":
		return true
	}
	return false
}

func RegisterPublisher(name string, publisher Publisher) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registeredPublishers[name]; ok {
		return errAlreadyRegistered
	}
	registeredPublishers[name] = publisher
	return nil
}

// Identifier derives the stable slug a device publishes under.
func Identifier(device remi.DeviceSummary) string {
	return fmt.Sprintf("%s_%s", slug.Make("remi "+device.Name), device.ObjectID)
}

// PublishSnapshot flattens a snapshot into sensor values, suppresses
// unchanged readings and fans the rest out to every registered publisher.
// Per-publisher failures are logged and skipped so one slow sink cannot
// starve the others.
func PublishSnapshot(ctx context.Context, snapshot *coordinator.Snapshot) {
	identifier := Identifier(remi.DeviceSummary{
		ObjectID: snapshot.Device.ObjectID,
		Name:     snapshot.Device.Name,
	})

	values := make([]SensorValue, 0, 8)
	for _, value := range Flatten(snapshot) {
		if !shouldUpdate(identifier, value.Slug, value.Value) {
			continue
		}
		value.Identifier = identifier
		values = append(values, value)
	}
	if len(values) == 0 {
		return
	}

	mu.Lock()
	publishers := make(map[string]Publisher, len(registeredPublishers))
	for name, p := range registeredPublishers {
		publishers[name] = p
	}
	mu.Unlock()

	for name, p := range publishers {
		if err := p.Write(ctx, values); err != nil {
			zap.L().Error("failed to publish snapshot",
				zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("published sensor values",
			zap.Int("count", len(values)), zap.String("publisher", name))
	}
}

func RegisterDevice(device remi.DeviceSummary) {
	mu.Lock()
	publishers := make(map[string]Publisher, len(registeredPublishers))
	for name, p := range registeredPublishers {
		publishers[name] = p
	}
	mu.Unlock()

	for name, p := range publishers {
		if err := p.RegisterDevice(device); err != nil {
			zap.L().Error("failed to register device",
				zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("registered device",
			zap.String("device", device.ObjectID), zap.String("publisher", name))
	}
}

// Flatten turns a snapshot into the sensor readings the sinks consume.
func Flatten(snapshot *coordinator.Snapshot) []SensorValue {
	now := time.Now()
	values := make([]SensorValue, 0, 8)
	add := func(sensorSlug, value, unit string) {
		values = append(values, SensorValue{
			Slug:      sensorSlug,
			Value:     value,
			Unit:      unit,
			Timestamp: now,
		})
	}

	device := snapshot.Device
	if celsius := device.TemperatureCelsius(); celsius != nil {
		add("temperature", strconv.FormatFloat(*celsius, 'f', 1, 64), "°C")
	}
	if device.Luminosity != nil {
		add("luminosity", strconv.Itoa(*device.Luminosity), "%")
	}
	if device.LightMin != nil {
		add("night_luminosity", strconv.Itoa(*device.LightMin), "%")
	}
	if device.Volume != nil {
		add("volume", strconv.Itoa(*device.Volume), "%")
	}
	if device.FaceID != "" {
		add("face", device.FaceID, "")
	}
	if online, ok := device.Raw["online"].(bool); ok {
		add("online", strconv.FormatBool(online), "")
	}
	if rssi, ok := device.Raw["rssi"].(float64); ok {
		add("rssi", strconv.FormatFloat(rssi, 'f', 0, 64), "dBm")
	}
	if ip, ok := device.Raw["ipv4Address"].(string); ok && ip != "" {
		add("ip_address", ip, "")
	}
	if fw, ok := device.Raw["current_firmware_version"].(string); ok && fw != "" {
		add("firmware", fw, "")
	}
	add("alarms", strconv.Itoa(len(snapshot.Alarms)), "")
	return values
}

func shouldUpdate(identifier, sensorSlug, newValue string) bool {
	key := identifier + "_" + sensorSlug
	oldValue, exists := sensors.Load(key)
	if exists && oldValue.(string) == newValue {
		return false
	}
	sensors.Store(key, newValue)
	return true
}

// Reset clears registry and change-suppression state; tests only.
func Reset() {
	mu.Lock()
	registeredPublishers = make(map[string]Publisher)
	mu.Unlock()
	sensors.Range(func(key, _ any) bool {
		sensors.Delete(key)
		return true
	})
}
