package remi

import (
	"net/http"
	"time"
)

type Option func(*service)

func WithBaseURL(baseURL string) Option {
	return func(s *service) {
		s.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *service) {
		s.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *service) {
		s.timeout = timeout
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.cacheTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}
