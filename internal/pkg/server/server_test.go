package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/coordinator"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemi struct {
	devices    []remi.DeviceSummary
	err        error
	lastAction string
	lastLevel  int
	lastFace   string
	lastFields remi.AlarmFields
}

func (f *fakeRemi) ListDevices(ctx context.Context, refresh bool) ([]remi.DeviceSummary, error) {
	return f.devices, f.err
}

func (f *fakeRemi) GetDeviceInfo(ctx context.Context, objectID string, refresh bool) (remi.DeviceInfo, error) {
	return remi.DeviceInfo{ObjectID: objectID, Name: "Chambre"}, f.err
}

func (f *fakeRemi) GetAlarms(ctx context.Context, objectID string, refresh bool) ([]remi.Alarm, error) {
	return []remi.Alarm{{ObjectID: "a1", Time: "07:30"}}, f.err
}

func (f *fakeRemi) setLevel(action string, level int) error {
	if f.err != nil {
		return f.err
	}
	f.lastAction = action
	f.lastLevel = level
	return nil
}

func (f *fakeRemi) SetBrightness(ctx context.Context, objectID string, brightness int) error {
	return f.setLevel("brightness", brightness)
}

func (f *fakeRemi) SetNightLuminosity(ctx context.Context, objectID string, level int) error {
	return f.setLevel("night-luminosity", level)
}

func (f *fakeRemi) SetVolume(ctx context.Context, objectID string, level int) error {
	return f.setLevel("volume", level)
}

func (f *fakeRemi) SetNoiseThreshold(ctx context.Context, objectID string, threshold int) error {
	return f.setLevel("noise-threshold", threshold)
}

func (f *fakeRemi) SetFaceByName(ctx context.Context, objectID, name string) error {
	if f.err != nil {
		return f.err
	}
	f.lastAction = "face"
	f.lastFace = name
	return nil
}

func (f *fakeRemi) TurnOn(ctx context.Context, objectID string) error {
	f.lastAction = "on"
	return f.err
}

func (f *fakeRemi) TurnOff(ctx context.Context, objectID string) error {
	f.lastAction = "off"
	return f.err
}

func (f *fakeRemi) PlayMedia(ctx context.Context, objectID, sound string, volume *int) error {
	f.lastAction = "play " + sound
	return f.err
}

func (f *fakeRemi) StopSound(ctx context.Context, objectID string) error {
	f.lastAction = "stop"
	return f.err
}

func (f *fakeRemi) CreateAlarm(ctx context.Context, objectID string, fields remi.AlarmFields) error {
	f.lastAction = "create"
	f.lastFields = fields
	return f.err
}

func (f *fakeRemi) UpdateAlarm(ctx context.Context, objectID, alarmID string, fields remi.AlarmFields) error {
	f.lastAction = "update " + alarmID
	f.lastFields = fields
	return f.err
}

func (f *fakeRemi) DeleteAlarm(ctx context.Context, objectID, alarmID string) error {
	f.lastAction = "delete " + alarmID
	return f.err
}

func (f *fakeRemi) EnableAlarm(ctx context.Context, objectID, alarmID string) error {
	f.lastAction = "enable " + alarmID
	return f.err
}

func (f *fakeRemi) DisableAlarm(ctx context.Context, objectID, alarmID string) error {
	f.lastAction = "disable " + alarmID
	return f.err
}

func (f *fakeRemi) SnoozeAlarm(ctx context.Context, objectID, alarmID string, duration time.Duration) error {
	f.lastAction = "snooze " + alarmID
	return f.err
}

func (f *fakeRemi) TriggerAlarm(ctx context.Context, objectID, alarmID string) error {
	f.lastAction = "trigger " + alarmID
	return f.err
}

func newTestServer(t *testing.T, fake *fakeRemi) (*httptest.Server, *coordinator.Coordinator) {
	return newTestServerWithHistory(t, fake, nil)
}

func newTestServerWithHistory(t *testing.T, fake *fakeRemi, history HistoryStore) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	coord := coordinator.New(fake, "dev1", "Chambre", time.Minute)
	srv := httptest.NewServer(New(fake, map[string]*coordinator.Coordinator{"dev1": coord}, history).Router())
	t.Cleanup(srv.Close)
	return srv, coord
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestGetDevices(t *testing.T) {
	fake := &fakeRemi{devices: []remi.DeviceSummary{{ObjectID: "dev1", Name: "Chambre"}}}
	srv, _ := newTestServer(t, fake)

	res := doJSON(t, http.MethodGet, srv.URL+"/devices", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var devices []remi.DeviceSummary
	require.NoError(t, json.NewDecoder(res.Body).Decode(&devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "dev1", devices[0].ObjectID)
}

func TestGetDeviceServesCoordinatorSnapshot(t *testing.T) {
	fake := &fakeRemi{}
	srv, coord := newTestServer(t, fake)
	require.NoError(t, coord.FirstRefresh(context.Background()))

	res := doJSON(t, http.MethodGet, srv.URL+"/devices/dev1", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body deviceResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "dev1", body.Device.ObjectID)
	assert.True(t, body.Available)
	assert.Contains(t, body.Alarms, "a1")
}

func TestGetDeviceBeforeFirstRefresh(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRemi{})
	res := doJSON(t, http.MethodGet, srv.URL+"/devices/dev1", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestGetDeviceUnknown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRemi{})
	res := doJSON(t, http.MethodGet, srv.URL+"/devices/ghost", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSetVolume(t *testing.T) {
	fake := &fakeRemi{}
	srv, _ := newTestServer(t, fake)

	res := doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/volume", `{"level":40}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "volume", fake.lastAction)
	assert.Equal(t, 40, fake.lastLevel)
}

func TestSetVolumeMalformedPayload(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRemi{})
	res := doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/volume", `{"level":`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSetFace(t *testing.T) {
	fake := &fakeRemi{}
	srv, _ := newTestServer(t, fake)

	res := doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/face", `{"name":"sleepyFace"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "sleepyFace", fake.lastFace)

	res = doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/face", `{}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCreateAlarm(t *testing.T) {
	fake := &fakeRemi{}
	srv, _ := newTestServer(t, fake)

	res := doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/alarms",
		`{"time":"07:30","days":[0,2,4],"sound":"birds"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "create", fake.lastAction)
	require.NotNil(t, fake.lastFields.Time)
	assert.Equal(t, "07:30", *fake.lastFields.Time)
	assert.Equal(t, []int{0, 2, 4}, fake.lastFields.Days)
	require.NotNil(t, fake.lastFields.Sound)
	assert.Equal(t, "birds", *fake.lastFields.Sound)
}

func TestAlarmLifecycleRoutes(t *testing.T) {
	fake := &fakeRemi{}
	srv, _ := newTestServer(t, fake)

	for _, tc := range []struct {
		method, path, want string
	}{
		{http.MethodPut, "/devices/dev1/alarms/a1", "update a1"},
		{http.MethodDelete, "/devices/dev1/alarms/a1", "delete a1"},
		{http.MethodPost, "/devices/dev1/alarms/a1/enable", "enable a1"},
		{http.MethodPost, "/devices/dev1/alarms/a1/disable", "disable a1"},
		{http.MethodPost, "/devices/dev1/alarms/a1/snooze", "snooze a1"},
		{http.MethodPost, "/devices/dev1/alarms/a1/trigger", "trigger a1"},
	} {
		body := ""
		if tc.method == http.MethodPut {
			body = `{"enabled":false}`
		}
		res := doJSON(t, tc.method, srv.URL+tc.path, body)
		require.Equal(t, http.StatusOK, res.StatusCode, tc.path)
		assert.Equal(t, tc.want, fake.lastAction, tc.path)
	}
}

func TestErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{&remi.ValidationError{Reason: "volume 200 out of range"}, http.StatusBadRequest},
		{&remi.NotFoundError{Resource: "face", Name: "ghost"}, http.StatusNotFound},
		{&remi.AuthError{Reason: "session expired"}, http.StatusUnauthorized},
		{&remi.HTTPError{Status: 500, Body: "server error"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	} {
		fake := &fakeRemi{err: tc.err}
		srv, _ := newTestServer(t, fake)
		res := doJSON(t, http.MethodPost, srv.URL+"/devices/dev1/volume", `{"level":40}`)
		assert.Equal(t, tc.status, res.StatusCode, tc.err.Error())
	}
}

type fakeHistory struct {
	values     []publisher.SensorValue
	identifier string
	slug       string
	from, to   *time.Time
}

func (f *fakeHistory) GetSensorHistory(ctx context.Context, identifier, slug string, from, to *time.Time) ([]publisher.SensorValue, error) {
	f.identifier = identifier
	f.slug = slug
	f.from, f.to = from, to
	return f.values, nil
}

func (f *fakeHistory) GetLatestValues(ctx context.Context) ([]publisher.SensorValue, error) {
	return f.values, nil
}

func TestSensorHistoryRoute(t *testing.T) {
	history := &fakeHistory{values: []publisher.SensorValue{
		{Identifier: "remi-chambre_dev1", Slug: "temperature", Value: "19.5", Unit: "°C"},
	}}
	srv, _ := newTestServerWithHistory(t, &fakeRemi{}, history)

	res := doJSON(t, http.MethodGet,
		srv.URL+"/devices/dev1/history/temperature?from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var values []publisher.SensorValue
	require.NoError(t, json.NewDecoder(res.Body).Decode(&values))
	require.Len(t, values, 1)
	assert.Equal(t, "19.5", values[0].Value)

	assert.Equal(t, "remi-chambre_dev1", history.identifier)
	assert.Equal(t, "temperature", history.slug)
	require.NotNil(t, history.from)
	assert.Equal(t, 2025, history.from.Year())
}

func TestSensorHistoryMalformedRange(t *testing.T) {
	srv, _ := newTestServerWithHistory(t, &fakeRemi{}, &fakeHistory{})
	res := doJSON(t, http.MethodGet, srv.URL+"/devices/dev1/history/temperature?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSensorHistoryUnknownDevice(t *testing.T) {
	srv, _ := newTestServerWithHistory(t, &fakeRemi{}, &fakeHistory{})
	res := doJSON(t, http.MethodGet, srv.URL+"/devices/ghost/history/temperature", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHistoryRoutesWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRemi{})
	res := doJSON(t, http.MethodGet, srv.URL+"/devices/dev1/history/temperature", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res = doJSON(t, http.MethodGet, srv.URL+"/sensors/latest", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLatestValuesRoute(t *testing.T) {
	history := &fakeHistory{values: []publisher.SensorValue{
		{Identifier: "remi-chambre_dev1", Slug: "volume", Value: "40", Unit: "%"},
	}}
	srv, _ := newTestServerWithHistory(t, &fakeRemi{}, history)

	res := doJSON(t, http.MethodGet, srv.URL+"/sensors/latest", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var values []publisher.SensorValue
	require.NoError(t, json.NewDecoder(res.Body).Decode(&values))
	require.Len(t, values, 1)
	assert.Equal(t, "volume", values[0].Slug)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRemi{})

	res := doJSON(t, http.MethodGet, srv.URL+"/devices", "")
	assert.NotEmpty(t, res.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/devices", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "given-id")
	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, "given-id", res2.Header.Get(requestIDHeader))
}
