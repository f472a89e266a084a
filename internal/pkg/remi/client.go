package remi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/config"
	"go.uber.org/zap"
)

// DefaultBaseURL is the UrbanHello production backend.
const DefaultBaseURL = "https://remi2.urbanhello.com/parse"

const (
	appID = "jf1a0bADt5fq"

	appIDHeader        = "X-Parse-Application-Id"
	sessionTokenHeader = "X-Parse-Session-Token"

	defaultTimeout  = 15 * time.Second
	defaultCacheTTL = 60 * time.Second
)

// service owns one authenticated connection to the Rémi cloud backend plus
// the per-object caches in front of it. One instance is shared by all device
// coordinators of an account; it is safe for concurrent use.
type service struct {
	cfg        *config.RemiConfig
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	cacheTTL   time.Duration
	now        clock
	logger     *zap.Logger

	mu      sync.Mutex // guards token, faces and devices
	token   string
	faces   map[string]string
	devices []DeviceSummary

	deviceCache *ttlCache[DeviceInfo]
	alarmCache  *ttlCache[[]Alarm]
}

func New(cfg *config.RemiConfig, opts ...Option) *service {
	s := &service{
		cfg:        cfg,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		timeout:    defaultTimeout,
		cacheTTL:   defaultCacheTTL,
		now:        time.Now,
		logger:     zap.L(),
		faces:      map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deviceCache = newTTLCache[DeviceInfo](s.cacheTTL, s.now)
	s.alarmCache = newTTLCache[[]Alarm](s.cacheTTL, s.now)
	return s
}

// Login authenticates and stores the session token. The device list and
// face catalog are warmed best-effort; their failures do not fail the login.
func (s *service) Login(ctx context.Context) error {
	payload := map[string]any{
		"username": s.cfg.Username,
		"password": s.cfg.Password,
	}
	data, err := s.do(ctx, http.MethodPost, "/login", payload, false)
	if err != nil {
		return err
	}

	var res loginResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return &AuthError{Reason: "unexpected response during login"}
	}
	if res.SessionToken == "" {
		return &AuthError{Reason: "login succeeded but no session token was returned"}
	}

	s.mu.Lock()
	s.token = res.SessionToken
	s.devices = res.Remis
	s.mu.Unlock()

	// Some backend versions omit the device list from the login response.
	if len(res.Remis) == 0 {
		if _, err := s.ListDevices(ctx, true); err != nil {
			s.logger.Debug("could not refresh device list after login", zap.Error(err))
		}
	}
	if _, err := s.Faces(ctx, true); err != nil {
		s.logger.Debug("could not warm face catalog during login", zap.Error(err))
	}

	s.logger.Debug("logged in",
		zap.String("username", s.cfg.Username),
		zap.Int("devices", len(s.snapshotDevices())))
	return nil
}

// Logout invalidates the session server-side best-effort and always clears
// the local token.
func (s *service) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return
	}
	if _, err := s.do(ctx, http.MethodPost, "/logout", map[string]any{}, true); err != nil {
		s.logger.Debug("logout request failed, clearing session locally", zap.Error(err))
	}
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *service) sessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *service) snapshotDevices() []DeviceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := make([]DeviceSummary, len(s.devices))
	copy(devices, s.devices)
	return devices
}

// invalidate drops both cache entries for a device so the next read is
// forced to the backend. Every successful write path calls this.
func (s *service) invalidate(objectID string) {
	s.deviceCache.invalidate(objectID)
	s.alarmCache.invalidate(objectID)
}
