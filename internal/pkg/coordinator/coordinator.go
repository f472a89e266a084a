package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/config"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type remiAPI interface {
	GetDeviceInfo(ctx context.Context, objectID string, refresh bool) (remi.DeviceInfo, error)
	GetAlarms(ctx context.Context, objectID string, refresh bool) ([]remi.Alarm, error)
}

// Snapshot is one consistent fetch of device state and alarms. Snapshots
// are immutable once published.
type Snapshot struct {
	Device remi.DeviceInfo
	Alarms map[string]remi.Alarm
}

type Listener func(*Snapshot)

// Coordinator polls one device on a fixed interval and fans fresh snapshots
// out to its listeners. At most one fetch is in flight at any time; callers
// arriving while a fetch is outstanding join it instead of starting another.
type Coordinator struct {
	api        remiAPI
	deviceID   string
	deviceName string
	interval   time.Duration
	logger     *zap.Logger

	group   singleflight.Group
	trigger chan struct{}

	mu        sync.RWMutex
	snapshot  *Snapshot
	available bool
	listeners []Listener
}

func New(api remiAPI, deviceID, deviceName string, interval time.Duration) *Coordinator {
	return &Coordinator{
		api:        api,
		deviceID:   deviceID,
		deviceName: deviceName,
		interval:   config.ClampInterval(interval),
		logger:     zap.L(),
		trigger:    make(chan struct{}, 1),
	}
}

func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

func (c *Coordinator) DeviceName() string {
	return c.deviceName
}

// Snapshot returns the last published snapshot, nil before the first
// successful refresh.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Available reports whether the last refresh succeeded. A failed poll
// clears it while the previous snapshot stays served as last-known-good.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Coordinator) AddListener(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Refresh performs one combined fetch of device state and alarms.
// Concurrent callers share a single in-flight fetch and its outcome.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	result, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// FirstRefresh must complete before the device counts as initialized.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// RequestRefresh schedules an immediate poll; write paths call it after
// every mutation. It never blocks.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.trigger:
		}
		// Failures degrade availability; the next tick retries.
		_, _ = c.Refresh(ctx)
	}
}

func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, error) {
	device, err := c.api.GetDeviceInfo(ctx, c.deviceID, true)
	if err != nil {
		c.fail(err)
		return nil, err
	}
	// Alarms always refresh alongside device state so dependent observers
	// stay consistent.
	alarms, err := c.api.GetAlarms(ctx, c.deviceID, true)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	snapshot := &Snapshot{
		Device: device,
		Alarms: lo.KeyBy(alarms, func(a remi.Alarm) string { return a.ObjectID }),
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.available = true
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}

	c.logger.Debug("published snapshot",
		zap.String("device", c.deviceName),
		zap.Int("alarms", len(snapshot.Alarms)))
	return snapshot, nil
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	c.available = false
	c.mu.Unlock()
	c.logger.Warn("refresh failed",
		zap.String("device", c.deviceName), zap.Error(err))
}
