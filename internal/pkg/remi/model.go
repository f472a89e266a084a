package remi

import (
	"fmt"
	"strconv"
	"strings"
)

// Pointer is the backend's typed link between records. Updates that set a
// linked object must always send one of these, never a bare id string.
type Pointer struct {
	Type      string `json:"__type"`
	ClassName string `json:"className"`
	ObjectID  string `json:"objectId"`
}

func facePointer(objectID string) Pointer {
	return Pointer{Type: "Pointer", ClassName: "Face", ObjectID: objectID}
}

func remiPointer(objectID string) Pointer {
	return Pointer{Type: "Pointer", ClassName: "Remi", ObjectID: objectID}
}

// DeviceSummary identifies one Rémi device owned by the account.
type DeviceSummary struct {
	ObjectID string `json:"objectId"`
	Name     string `json:"name"`
}

// DeviceInfo is the normalized device state. Temperature carries the
// provider bias correction and stays in provider units (tenths of a degree);
// TemperatureCelsius converts for presentation. Raw preserves the full
// provider payload for pass-through fields such as online status, RSSI and
// firmware versions.
type DeviceInfo struct {
	ObjectID    string
	Name        string
	Temperature *int
	Luminosity  *int
	LightMin    *int
	Volume      *int
	FaceID      string
	Raw         map[string]any
}

func (d DeviceInfo) TemperatureCelsius() *float64 {
	if d.Temperature == nil {
		return nil
	}
	c := float64(*d.Temperature) / 10
	return &c
}

// Alarm is one alarm-clock record normalized from the backend encoding.
// Days holds active weekday indices (0=Monday .. 6=Sunday); Recurrence is
// the backend's 7-slot boolean array the days were derived from.
type Alarm struct {
	ObjectID   string
	Name       string
	Time       string
	Enabled    bool
	Days       []int
	Recurrence []int
	EventTime  []int
	Cmd        int
	Brightness int
	Volume     int
	Sound      string
	LengthMin  int
	FaceID     string
	LightNight []int
}

// AlarmFields carries the optionally-present logical fields of an alarm
// write. Nil pointers (and a nil Days slice) mean "leave unchanged".
type AlarmFields struct {
	Time       *string
	Enabled    *bool
	Days       []int
	Sound      *string
	Face       *string
	Volume     *int
	Brightness *int
	Label      *string
}

func (f AlarmFields) empty() bool {
	return f.Time == nil && f.Enabled == nil && f.Days == nil && f.Sound == nil &&
		f.Face == nil && f.Volume == nil && f.Brightness == nil && f.Label == nil
}

type loginResponse struct {
	SessionToken string          `json:"sessionToken"`
	Remis        []DeviceSummary `json:"remis"`
}

// queryResponse is the backend's collection-query envelope.
type queryResponse[T any] struct {
	Results []T `json:"results"`
}

type remiObject struct {
	Name       string   `json:"name"`
	Temp       *int     `json:"temp"`
	Luminosity *int     `json:"luminosity"`
	LightMin   *int     `json:"light_min"`
	Volume     *int     `json:"volume"`
	Face       *Pointer `json:"face"`
}

type faceObject struct {
	ObjectID string `json:"objectId"`
	Name     string `json:"name"`
}

type eventObject struct {
	ObjectID   string   `json:"objectId"`
	Name       string   `json:"name"`
	EventTime  []int    `json:"event_time"`
	Recurrence []int    `json:"recurrence"`
	Enabled    bool     `json:"enabled"`
	Cmd        int      `json:"cmd"`
	Brightness *int     `json:"brightness"`
	Volume     *int     `json:"volume"`
	Sound      string   `json:"sound"`
	LengthMin  int      `json:"length_min"`
	Face       *Pointer `json:"face"`
	LightNight []int    `json:"lightnight"`
}

// parseClockTime splits "HH:MM" into its parts. Malformed strings encode as
// midnight rather than failing, matching the device app's behaviour.
func parseClockTime(value string) (hour, minute int) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0
	}
	return h, m
}

func formatClockTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// recurrenceFromDays encodes weekday indices into the 7-slot array.
// Out-of-range indices are ignored.
func recurrenceFromDays(days []int) []int {
	recurrence := make([]int, 7)
	for _, day := range days {
		if day >= 0 && day < 7 {
			recurrence[day] = 1
		}
	}
	return recurrence
}

func daysFromRecurrence(recurrence []int) []int {
	days := make([]int, 0, len(recurrence))
	for day, active := range recurrence {
		if day >= 7 {
			break
		}
		if active != 0 {
			days = append(days, day)
		}
	}
	return days
}
