package remi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// alarmClasses are the backend resource classes that have historically held
// alarm records, probed in this fixed order. Write operations accept the
// first class that succeeds.
var alarmClasses = []string{"Event", "Alarm", "Schedule"}

const defaultSnooze = 9 * time.Minute

// GetAlarms reads the alarms belonging to a device via a filtered
// collection query. Records whose shape does not convert are dropped
// individually instead of failing the whole batch.
func (s *service) GetAlarms(ctx context.Context, objectID string, refresh bool) ([]Alarm, error) {
	if !refresh {
		if alarms, ok := s.alarmCache.get(objectID); ok {
			return alarms, nil
		}
	}

	body := map[string]any{"where": map[string]any{"remi": remiPointer(objectID)}}
	data, err := s.do(ctx, http.MethodGet, "/classes/Event", body, true)
	if err != nil {
		return nil, err
	}
	var res queryResponse[json.RawMessage]
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("remi: unexpected alarm query response: %w", err)
	}

	alarms := make([]Alarm, 0, len(res.Results))
	for _, raw := range res.Results {
		alarm, err := convertEvent(raw)
		if err != nil {
			s.logger.Debug("dropping alarm record",
				zap.String("device", objectID), zap.Error(err))
			continue
		}
		alarms = append(alarms, alarm)
	}

	s.alarmCache.set(objectID, alarms)
	s.logger.Debug("fetched alarms",
		zap.String("device", objectID), zap.Int("count", len(alarms)))
	return alarms, nil
}

// convertEvent normalizes one Event record into the flat alarm shape.
func convertEvent(data json.RawMessage) (Alarm, error) {
	var event eventObject
	if err := json.Unmarshal(data, &event); err != nil {
		return Alarm{}, err
	}
	if event.ObjectID == "" {
		return Alarm{}, errors.New("alarm record missing objectId")
	}

	eventTime := event.EventTime
	if len(eventTime) < 2 {
		eventTime = []int{0, 0}
	}
	timeOfDay := formatClockTime(eventTime[0], eventTime[1])

	recurrence := event.Recurrence
	if len(recurrence) == 0 {
		recurrence = make([]int, 7)
	}

	alarm := Alarm{
		ObjectID:   event.ObjectID,
		Name:       event.Name,
		Time:       timeOfDay,
		Enabled:    event.Enabled,
		Days:       daysFromRecurrence(recurrence),
		Recurrence: recurrence,
		EventTime:  eventTime,
		Cmd:        event.Cmd,
		Brightness: 100,
		Sound:      event.Sound,
		LengthMin:  event.LengthMin,
		LightNight: event.LightNight,
	}
	if alarm.Name == "" {
		alarm.Name = "Event " + timeOfDay
	}
	if event.Brightness != nil {
		alarm.Brightness = *event.Brightness
	}
	if event.Volume != nil {
		alarm.Volume = *event.Volume
	}
	if event.Face != nil {
		alarm.FaceID = event.Face.ObjectID
	}
	if alarm.LightNight == nil {
		alarm.LightNight = []int{255, 255, 255}
	}
	return alarm, nil
}

// writePayload builds the class-specific encoding of an alarm write. The
// Event class wants a structured [hour, minute] pair and the 7-slot
// recurrence array; the legacy classes take "HH:MM" and a day-index list.
func (s *service) writePayload(ctx context.Context, class string, fields AlarmFields) (map[string]any, error) {
	payload := map[string]any{}
	switch class {
	case "Event":
		if fields.Time != nil {
			hour, minute := parseClockTime(*fields.Time)
			payload["event_time"] = []int{hour, minute}
		}
		if fields.Days != nil {
			payload["recurrence"] = recurrenceFromDays(fields.Days)
		}
		if fields.Label != nil {
			payload["name"] = *fields.Label
		}
	default:
		if fields.Time != nil {
			payload["time"] = *fields.Time
		}
		if fields.Days != nil {
			payload["days"] = fields.Days
		}
		if fields.Label != nil {
			payload["label"] = *fields.Label
		}
	}
	if fields.Enabled != nil {
		payload["enabled"] = *fields.Enabled
	}
	if fields.Sound != nil {
		payload["sound"] = *fields.Sound
	}
	if fields.Volume != nil {
		payload["volume"] = *fields.Volume
	}
	if fields.Brightness != nil {
		payload["brightness"] = *fields.Brightness
	}
	if fields.Face != nil {
		faceID, err := s.ResolveFace(ctx, *fields.Face)
		if err != nil {
			return nil, err
		}
		payload["face"] = facePointer(faceID)
	}
	return payload, nil
}

// CreateAlarm creates an alarm for a device. Time is required; an absent
// Enabled defaults to on and absent Days to every day.
func (s *service) CreateAlarm(ctx context.Context, objectID string, fields AlarmFields) error {
	if fields.Time == nil {
		return &ValidationError{Reason: "alarm time is required"}
	}
	if fields.Enabled == nil {
		enabled := true
		fields.Enabled = &enabled
	}
	if fields.Days == nil {
		fields.Days = []int{0, 1, 2, 3, 4, 5, 6}
	}

	var lastErr error
	for _, class := range alarmClasses {
		payload, err := s.writePayload(ctx, class, fields)
		if err != nil {
			return err
		}
		payload["remi"] = remiPointer(objectID)
		if _, err := s.do(ctx, http.MethodPost, "/classes/"+class, payload, true); err != nil {
			lastErr = err
			continue
		}
		s.invalidate(objectID)
		s.logger.Debug("created alarm",
			zap.String("device", objectID), zap.String("class", class))
		return nil
	}
	return fmt.Errorf("remi: could not create alarm for device %s: %w", objectID, lastErr)
}

// UpdateAlarm updates an alarm; at least one field must be set.
func (s *service) UpdateAlarm(ctx context.Context, objectID, alarmID string, fields AlarmFields) error {
	if fields.empty() {
		return &ValidationError{Reason: "no fields to update"}
	}

	var lastErr error
	for _, class := range alarmClasses {
		payload, err := s.writePayload(ctx, class, fields)
		if err != nil {
			return err
		}
		if _, err := s.do(ctx, http.MethodPut, "/classes/"+class+"/"+alarmID, payload, true); err != nil {
			lastErr = err
			continue
		}
		s.invalidate(objectID)
		s.logger.Debug("updated alarm",
			zap.String("alarm", alarmID), zap.String("class", class))
		return nil
	}
	return fmt.Errorf("remi: could not update alarm %s: %w", alarmID, lastErr)
}

func (s *service) DeleteAlarm(ctx context.Context, objectID, alarmID string) error {
	var lastErr error
	for _, class := range alarmClasses {
		if _, err := s.do(ctx, http.MethodDelete, "/classes/"+class+"/"+alarmID, nil, true); err != nil {
			lastErr = err
			continue
		}
		s.invalidate(objectID)
		s.logger.Debug("deleted alarm",
			zap.String("alarm", alarmID), zap.String("class", class))
		return nil
	}
	return fmt.Errorf("remi: could not delete alarm %s: %w", alarmID, lastErr)
}

func (s *service) EnableAlarm(ctx context.Context, objectID, alarmID string) error {
	enabled := true
	return s.UpdateAlarm(ctx, objectID, alarmID, AlarmFields{Enabled: &enabled})
}

func (s *service) DisableAlarm(ctx context.Context, objectID, alarmID string) error {
	enabled := false
	return s.UpdateAlarm(ctx, objectID, alarmID, AlarmFields{Enabled: &enabled})
}

// SnoozeAlarm marks an alarm snoozed until now + duration (default 9
// minutes, the device app's convention).
func (s *service) SnoozeAlarm(ctx context.Context, objectID, alarmID string, duration time.Duration) error {
	if duration <= 0 {
		duration = defaultSnooze
	}
	payload := map[string]any{
		"snoozed":     true,
		"snoozeUntil": s.now().Add(duration).Format(time.RFC3339),
	}

	var lastErr error
	for _, class := range alarmClasses {
		if _, err := s.do(ctx, http.MethodPut, "/classes/"+class+"/"+alarmID, payload, true); err != nil {
			lastErr = err
			continue
		}
		s.invalidate(objectID)
		return nil
	}
	return fmt.Errorf("remi: could not snooze alarm %s: %w", alarmID, lastErr)
}

// TriggerAlarm applies an alarm's face, sound and volume to the device
// immediately, used for testing alarms from the platform side.
func (s *service) TriggerAlarm(ctx context.Context, objectID, alarmID string) error {
	alarms, err := s.GetAlarms(ctx, objectID, true)
	if err != nil {
		return err
	}
	alarm, ok := lo.Find(alarms, func(a Alarm) bool { return a.ObjectID == alarmID })
	if !ok {
		return &NotFoundError{Resource: "alarm", Name: alarmID}
	}

	if alarm.FaceID != "" {
		name, err := s.FaceName(ctx, alarm.FaceID)
		if err != nil {
			return err
		}
		if name != "" {
			if err := s.SetFaceByName(ctx, objectID, name); err != nil {
				return err
			}
		}
	}
	if alarm.Sound != "" {
		volume := alarm.Volume
		if err := s.PlayMedia(ctx, objectID, alarm.Sound, &volume); err != nil {
			return err
		}
	} else if err := s.SetVolume(ctx, objectID, alarm.Volume); err != nil {
		return err
	}
	s.logger.Debug("triggered alarm", zap.String("alarm", alarmID))
	return nil
}
