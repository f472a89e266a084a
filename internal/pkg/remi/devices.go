package remi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// temperatureBias is the constant offset the provider subtracts before
// storing temperatures. Raw values stay in provider tenths of a degree.
const temperatureBias = 40

// ListDevices returns the Rémi devices of the account, cached from login
// unless refresh is set.
func (s *service) ListDevices(ctx context.Context, refresh bool) ([]DeviceSummary, error) {
	if !refresh {
		if devices := s.snapshotDevices(); len(devices) > 0 {
			return devices, nil
		}
	}

	data, err := s.do(ctx, http.MethodGet, "/classes/Remi", nil, true)
	if err != nil {
		return nil, err
	}
	var res queryResponse[DeviceSummary]
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("remi: unexpected device list response: %w", err)
	}

	s.mu.Lock()
	s.devices = res.Results
	s.mu.Unlock()
	s.logger.Debug("listed devices", zap.Int("count", len(res.Results)))
	return s.snapshotDevices(), nil
}

// GetDeviceInfo reads one device, serving the cached copy while it is fresh
// unless refresh forces a backend read.
func (s *service) GetDeviceInfo(ctx context.Context, objectID string, refresh bool) (DeviceInfo, error) {
	if !refresh {
		if info, ok := s.deviceCache.get(objectID); ok {
			return info, nil
		}
	}

	data, err := s.do(ctx, http.MethodGet, "/classes/Remi/"+objectID, nil, true)
	if err != nil {
		return DeviceInfo{}, err
	}
	info, err := normalizeDevice(objectID, data)
	if err != nil {
		return DeviceInfo{}, err
	}

	s.deviceCache.set(objectID, info)
	return info, nil
}

func normalizeDevice(objectID string, data []byte) (DeviceInfo, error) {
	var obj remiObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return DeviceInfo{}, fmt.Errorf("remi: unexpected response for device %s: %w", objectID, err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DeviceInfo{}, fmt.Errorf("remi: unexpected response for device %s: %w", objectID, err)
	}

	info := DeviceInfo{
		ObjectID:   objectID,
		Name:       obj.Name,
		Luminosity: obj.Luminosity,
		LightMin:   obj.LightMin,
		Volume:     obj.Volume,
		Raw:        raw,
	}
	if obj.Temp != nil {
		corrected := *obj.Temp + temperatureBias
		info.Temperature = &corrected
	}
	if obj.Face != nil {
		info.FaceID = obj.Face.ObjectID
	}
	return info, nil
}

// updateDevice is the write-through helper behind every device setter.
func (s *service) updateDevice(ctx context.Context, objectID string, payload map[string]any) error {
	if _, err := s.do(ctx, http.MethodPut, "/classes/Remi/"+objectID, payload, true); err != nil {
		return err
	}
	s.invalidate(objectID)
	s.logger.Debug("updated device", zap.String("object_id", objectID), zap.Any("payload", payload))
	return nil
}

func validateLevel(name string, level int) error {
	if level < 0 || level > 100 {
		return &ValidationError{Reason: fmt.Sprintf("%s %d out of range 0..100", name, level)}
	}
	return nil
}

func (s *service) SetBrightness(ctx context.Context, objectID string, brightness int) error {
	if err := validateLevel("brightness", brightness); err != nil {
		return err
	}
	return s.updateDevice(ctx, objectID, map[string]any{"luminosity": brightness})
}

func (s *service) SetNightLuminosity(ctx context.Context, objectID string, level int) error {
	if err := validateLevel("night luminosity", level); err != nil {
		return err
	}
	return s.updateDevice(ctx, objectID, map[string]any{"light_min": level})
}

func (s *service) SetVolume(ctx context.Context, objectID string, level int) error {
	if err := validateLevel("volume", level); err != nil {
		return err
	}
	return s.updateDevice(ctx, objectID, map[string]any{"volume": level})
}

func (s *service) SetNoiseThreshold(ctx context.Context, objectID string, threshold int) error {
	return s.updateDevice(ctx, objectID, map[string]any{"noise_threshold": threshold})
}

// PlayMedia sets the sound field on the device, optionally adjusting the
// volume for this playback.
func (s *service) PlayMedia(ctx context.Context, objectID, sound string, volume *int) error {
	payload := map[string]any{"sound": sound}
	if volume != nil {
		if err := validateLevel("volume", *volume); err != nil {
			return err
		}
		payload["volume"] = *volume
	}
	return s.updateDevice(ctx, objectID, payload)
}

// StopSound clears the sound field, which stops playback.
func (s *service) StopSound(ctx context.Context, objectID string) error {
	return s.updateDevice(ctx, objectID, map[string]any{"sound": ""})
}
