package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/coordinator"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"go.uber.org/zap"
)

// remiService is the slice of the client the control API needs.
type remiService interface {
	ListDevices(ctx context.Context, refresh bool) ([]remi.DeviceSummary, error)
	SetBrightness(ctx context.Context, objectID string, brightness int) error
	SetNightLuminosity(ctx context.Context, objectID string, level int) error
	SetVolume(ctx context.Context, objectID string, level int) error
	SetNoiseThreshold(ctx context.Context, objectID string, threshold int) error
	SetFaceByName(ctx context.Context, objectID, name string) error
	TurnOn(ctx context.Context, objectID string) error
	TurnOff(ctx context.Context, objectID string) error
	PlayMedia(ctx context.Context, objectID, sound string, volume *int) error
	StopSound(ctx context.Context, objectID string) error
	CreateAlarm(ctx context.Context, objectID string, fields remi.AlarmFields) error
	UpdateAlarm(ctx context.Context, objectID, alarmID string, fields remi.AlarmFields) error
	DeleteAlarm(ctx context.Context, objectID, alarmID string) error
	EnableAlarm(ctx context.Context, objectID, alarmID string) error
	DisableAlarm(ctx context.Context, objectID, alarmID string) error
	SnoozeAlarm(ctx context.Context, objectID, alarmID string, duration time.Duration) error
	TriggerAlarm(ctx context.Context, objectID, alarmID string) error
}

// HistoryStore is the optional sensor-history backend behind the read
// routes. A nil store disables them.
type HistoryStore interface {
	GetSensorHistory(ctx context.Context, identifier, slug string, from, to *time.Time) ([]publisher.SensorValue, error)
	GetLatestValues(ctx context.Context) ([]publisher.SensorValue, error)
}

type server struct {
	remis   remiService
	coords  map[string]*coordinator.Coordinator
	history HistoryStore
	logger  *zap.Logger
}

func New(remis remiService, coords map[string]*coordinator.Coordinator, history HistoryStore) *server {
	return &server{
		remis:   remis,
		coords:  coords,
		history: history,
		logger:  zap.L(),
	}
}

// Router wires the control surface the automation side consumes.
func (s *server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware, LoggingMiddleware)

	r.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/alarms", s.getAlarms).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/history/{slug}", s.getSensorHistory).Methods(http.MethodGet)
	r.HandleFunc("/sensors/latest", s.getLatestValues).Methods(http.MethodGet)

	r.HandleFunc("/devices/{id}/brightness", s.setLevel("brightness", s.remis.SetBrightness)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/night-luminosity", s.setLevel("night-luminosity", s.remis.SetNightLuminosity)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/volume", s.setLevel("volume", s.remis.SetVolume)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/noise-threshold", s.setLevel("noise-threshold", s.remis.SetNoiseThreshold)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/face", s.setFace).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/on", s.simpleAction(s.remis.TurnOn)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/off", s.simpleAction(s.remis.TurnOff)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/play", s.playMedia).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/stop", s.simpleAction(s.remis.StopSound)).Methods(http.MethodPost)

	r.HandleFunc("/devices/{id}/alarms", s.createAlarm).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}", s.updateAlarm).Methods(http.MethodPut)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}", s.deleteAlarm).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}/enable", s.alarmAction(s.remis.EnableAlarm)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}/disable", s.alarmAction(s.remis.DisableAlarm)).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}/snooze", s.snoozeAlarm).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/alarms/{alarmID}/trigger", s.alarmAction(s.remis.TriggerAlarm)).Methods(http.MethodPost)

	return r
}

// requestRefresh nudges the owning coordinator after a mutation so
// observers converge quickly.
func (s *server) requestRefresh(deviceID string) {
	if coord, ok := s.coords[deviceID]; ok {
		coord.RequestRefresh()
	}
}

func (s *server) getDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.remis.ListDevices(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

type deviceResponse struct {
	Device    remi.DeviceInfo       `json:"device"`
	Alarms    map[string]remi.Alarm `json:"alarms"`
	Available bool                  `json:"available"`
}

func (s *server) getDevice(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coords[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, &remi.NotFoundError{Resource: "device", Name: mux.Vars(r)["id"]})
		return
	}
	snapshot := coord.Snapshot()
	if snapshot == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		Device:    snapshot.Device,
		Alarms:    snapshot.Alarms,
		Available: coord.Available(),
	})
}

func (s *server) getAlarms(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coords[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, &remi.NotFoundError{Resource: "device", Name: mux.Vars(r)["id"]})
		return
	}
	snapshot := coord.Snapshot()
	if snapshot == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Alarms)
}

func (s *server) getSensorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "sensor history is not configured", http.StatusNotFound)
		return
	}
	vars := mux.Vars(r)
	coord, ok := s.coords[vars["id"]]
	if !ok {
		writeError(w, &remi.NotFoundError{Resource: "device", Name: vars["id"]})
		return
	}
	from, to, err := parseTimeRange(r)
	if err != nil {
		writeError(w, &remi.ValidationError{Reason: "malformed time range, want RFC3339"})
		return
	}

	identifier := publisher.Identifier(remi.DeviceSummary{
		ObjectID: coord.DeviceID(),
		Name:     coord.DeviceName(),
	})
	values, err := s.history.GetSensorHistory(r.Context(), identifier, vars["slug"], from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *server) getLatestValues(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "sensor history is not configured", http.StatusNotFound)
		return
	}
	values, err := s.history.GetLatestValues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func parseTimeRange(r *http.Request) (*time.Time, *time.Time, error) {
	parse := func(name string) (*time.Time, error) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return nil, nil
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		return &ts, nil
	}
	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

type levelPayload struct {
	Level int `json:"level"`
}

func (s *server) setLevel(name string, set func(context.Context, string, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["id"]
		payload, err := unmarshalPayload[levelPayload](r)
		if err != nil {
			writeError(w, &remi.ValidationError{Reason: "malformed " + name + " payload"})
			return
		}
		if err := set(r.Context(), deviceID, payload.Level); err != nil {
			writeError(w, err)
			return
		}
		s.requestRefresh(deviceID)
		writeSuccess(w)
	}
}

func (s *server) simpleAction(action func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["id"]
		if err := action(r.Context(), deviceID); err != nil {
			writeError(w, err)
			return
		}
		s.requestRefresh(deviceID)
		writeSuccess(w)
	}
}

type facePayload struct {
	Name string `json:"name"`
}

func (s *server) setFace(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	payload, err := unmarshalPayload[facePayload](r)
	if err != nil || payload.Name == "" {
		writeError(w, &remi.ValidationError{Reason: "face name is required"})
		return
	}
	if err := s.remis.SetFaceByName(r.Context(), deviceID, payload.Name); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(deviceID)
	writeSuccess(w)
}

type playPayload struct {
	Sound  string `json:"sound"`
	Volume *int   `json:"volume,omitempty"`
}

func (s *server) playMedia(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	payload, err := unmarshalPayload[playPayload](r)
	if err != nil || payload.Sound == "" {
		writeError(w, &remi.ValidationError{Reason: "sound is required"})
		return
	}
	if err := s.remis.PlayMedia(r.Context(), deviceID, payload.Sound, payload.Volume); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(deviceID)
	writeSuccess(w)
}

type alarmPayload struct {
	Time       *string `json:"time,omitempty"`
	Enabled    *bool   `json:"enabled,omitempty"`
	Days       []int   `json:"days,omitempty"`
	Sound      *string `json:"sound,omitempty"`
	Face       *string `json:"face,omitempty"`
	Volume     *int    `json:"volume,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	Label      *string `json:"label,omitempty"`
}

func (p alarmPayload) fields() remi.AlarmFields {
	return remi.AlarmFields{
		Time:       p.Time,
		Enabled:    p.Enabled,
		Days:       p.Days,
		Sound:      p.Sound,
		Face:       p.Face,
		Volume:     p.Volume,
		Brightness: p.Brightness,
		Label:      p.Label,
	}
}

func (s *server) createAlarm(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	payload, err := unmarshalPayload[alarmPayload](r)
	if err != nil {
		writeError(w, &remi.ValidationError{Reason: "malformed alarm payload"})
		return
	}
	if err := s.remis.CreateAlarm(r.Context(), deviceID, payload.fields()); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(deviceID)
	writeSuccess(w)
}

func (s *server) updateAlarm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := unmarshalPayload[alarmPayload](r)
	if err != nil {
		writeError(w, &remi.ValidationError{Reason: "malformed alarm payload"})
		return
	}
	if err := s.remis.UpdateAlarm(r.Context(), vars["id"], vars["alarmID"], payload.fields()); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(vars["id"])
	writeSuccess(w)
}

func (s *server) deleteAlarm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.remis.DeleteAlarm(r.Context(), vars["id"], vars["alarmID"]); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(vars["id"])
	writeSuccess(w)
}

func (s *server) alarmAction(action func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := action(r.Context(), vars["id"], vars["alarmID"]); err != nil {
			writeError(w, err)
			return
		}
		s.requestRefresh(vars["id"])
		writeSuccess(w)
	}
}

type snoozePayload struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *server) snoozeAlarm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, _ := unmarshalPayload[snoozePayload](r)
	var duration time.Duration
	if payload != nil {
		duration = time.Duration(payload.DurationMinutes) * time.Minute
	}
	if err := s.remis.SnoozeAlarm(r.Context(), vars["id"], vars["alarmID"], duration); err != nil {
		writeError(w, err)
		return
	}
	s.requestRefresh(vars["id"])
	writeSuccess(w)
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var out T
	if len(data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

// writeError maps client errors onto HTTP statuses: caller mistakes are
// 4xx, vendor backend failures 502, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *remi.ValidationError
		notFoundErr   *remi.NotFoundError
		authErr       *remi.AuthError
		httpErr       *remi.HTTPError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &httpErr):
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}
