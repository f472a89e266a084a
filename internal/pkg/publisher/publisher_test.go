package publisher

import (
	"context"
	"sync"
	"testing"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/coordinator"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu      sync.Mutex
	writes  [][]SensorValue
	devices []remi.DeviceSummary
	err     error
}

func (p *capturingPublisher) Write(ctx context.Context, values []SensorValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, values)
	return nil
}

func (p *capturingPublisher) RegisterDevice(device remi.DeviceSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = append(p.devices, device)
	return nil
}

func testSnapshot() *coordinator.Snapshot {
	temp := 195
	volume := 40
	return &coordinator.Snapshot{
		Device: remi.DeviceInfo{
			ObjectID:    "dev1",
			Name:        "Chambre",
			Temperature: &temp,
			Volume:      &volume,
			FaceID:      "f1",
			Raw: map[string]any{
				"online":                   true,
				"rssi":                     float64(-61),
				"ipv4Address":              "192.168.1.20",
				"current_firmware_version": "2.4.1",
			},
		},
		Alarms: map[string]remi.Alarm{"a1": {ObjectID: "a1"}},
	}
}

func valuesBySlug(values []SensorValue) map[string]SensorValue {
	out := make(map[string]SensorValue, len(values))
	for _, v := range values {
		out[v.Slug] = v
	}
	return out
}

func TestIdentifier(t *testing.T) {
	id := Identifier(remi.DeviceSummary{ObjectID: "abc123", Name: "Chambre Bébé"})
	assert.Equal(t, "remi-chambre-bebe_abc123", id)
}

func TestFlatten(t *testing.T) {
	values := valuesBySlug(Flatten(testSnapshot()))

	assert.Equal(t, "19.5", values["temperature"].Value)
	assert.Equal(t, "°C", values["temperature"].Unit)
	assert.Equal(t, "40", values["volume"].Value)
	assert.Equal(t, "%", values["volume"].Unit)
	assert.Equal(t, "f1", values["face"].Value)
	assert.Equal(t, "true", values["online"].Value)
	assert.Equal(t, "-61", values["rssi"].Value)
	assert.Equal(t, "dBm", values["rssi"].Unit)
	assert.Equal(t, "192.168.1.20", values["ip_address"].Value)
	assert.Equal(t, "2.4.1", values["firmware"].Value)
	assert.Equal(t, "1", values["alarms"].Value)

	_, hasLuminosity := values["luminosity"]
	assert.False(t, hasLuminosity, "absent fields must not publish")
}

func TestTextSensor(t *testing.T) {
	assert.True(t, TextSensor("face"))
	assert.True(t, TextSensor("online"))
	assert.False(t, TextSensor("temperature"))
	assert.False(t, TextSensor("alarms"))
}

func TestPublishSnapshotSuppressesUnchangedValues(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	sink := &capturingPublisher{}
	require.NoError(t, RegisterPublisher("capture", sink))

	snapshot := testSnapshot()
	PublishSnapshot(context.Background(), snapshot)
	require.Len(t, sink.writes, 1)

	// Unchanged snapshot: everything suppressed, no write at all.
	PublishSnapshot(context.Background(), snapshot)
	require.Len(t, sink.writes, 1)

	// One changed reading republishes only that reading.
	volume := 55
	snapshot.Device.Volume = &volume
	PublishSnapshot(context.Background(), snapshot)
	require.Len(t, sink.writes, 2)
	require.Len(t, sink.writes[1], 1)
	assert.Equal(t, "volume", sink.writes[1][0].Slug)
	assert.Equal(t, "55", sink.writes[1][0].Value)
}

func TestPublishSnapshotStampsIdentifier(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	sink := &capturingPublisher{}
	require.NoError(t, RegisterPublisher("capture", sink))

	PublishSnapshot(context.Background(), testSnapshot())
	require.Len(t, sink.writes, 1)
	for _, value := range sink.writes[0] {
		assert.Equal(t, "remi-chambre_dev1", value.Identifier)
	}
}

func TestRegisterPublisherRejectsDuplicates(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	require.NoError(t, RegisterPublisher("capture", &capturingPublisher{}))
	assert.Error(t, RegisterPublisher("capture", &capturingPublisher{}))
}

func TestRegisterDeviceFansOut(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	first := &capturingPublisher{}
	second := &capturingPublisher{}
	require.NoError(t, RegisterPublisher("first", first))
	require.NoError(t, RegisterPublisher("second", second))

	device := remi.DeviceSummary{ObjectID: "dev1", Name: "Chambre"}
	RegisterDevice(device)
	require.Len(t, first.devices, 1)
	require.Len(t, second.devices, 1)
	assert.Equal(t, device, first.devices[0])
}
