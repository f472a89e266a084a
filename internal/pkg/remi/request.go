package remi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// do issues one backend call. A 401 surfaces as AuthError, any other status
// >= 400 as HTTPError. If a GET against a /classes/ path fails at the
// transport level it is retried once as a POST carrying the original body
// plus the "_method" override marker, because the backend inconsistently
// rejects GET on that path family; when the fallback also fails, the
// surfaced error is the fallback's.
func (s *service) do(ctx context.Context, method, path string, body map[string]any, includeSession bool) ([]byte, error) {
	data, err := s.roundTrip(ctx, method, path, body, includeSession)
	if err == nil {
		return data, nil
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) && method == http.MethodGet && strings.Contains(path, "/classes/") {
		fallback := make(map[string]any, len(body)+1)
		for k, v := range body {
			fallback[k] = v
		}
		fallback["_method"] = http.MethodGet
		s.logger.Debug("read failed, retrying with method override",
			zap.String("path", path), zap.Error(err))
		return s.roundTrip(ctx, http.MethodPost, path, fallback, includeSession)
	}

	return nil, err
}

func (s *service) roundTrip(ctx context.Context, method, path string, body map[string]any, includeSession bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(appIDHeader, appID)
	if includeSession {
		if token := s.sessionToken(); token != "" {
			req.Header.Set(sessionTokenHeader, token)
		}
	}

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer res.Body.Close()

	text, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	if res.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Reason: string(text)}
	}
	if res.StatusCode >= 400 {
		s.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode))
		return nil, &HTTPError{Status: res.StatusCode, Body: string(text)}
	}
	return text, nil
}
