package remi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// The on/off toggles are defined purely as fixed faces by convention.
const (
	faceOn  = "sleepyFace"
	faceOff = "awakeFace"
)

// faceAliases maps the platform-side face names onto the backend's own.
var faceAliases = map[string]string{
	"sleepy_face":     "sleepyFace",
	"awake_face":      "awakeFace",
	"blank_face":      "blankFace",
	"semi_awake_face": "semiAwakeFace",
	"smily_face":      "smilyFace",
}

func apiFaceName(name string) string {
	if api, ok := faceAliases[name]; ok {
		return api
	}
	return name
}

// Faces returns the face catalog (name -> objectId). The catalog is loaded
// lazily and replaced wholesale on refresh, never partially invalidated.
func (s *service) Faces(ctx context.Context, refresh bool) (map[string]string, error) {
	if !refresh {
		if faces := s.snapshotFaces(); len(faces) > 0 {
			return faces, nil
		}
	}

	data, err := s.do(ctx, http.MethodGet, "/classes/Face", nil, true)
	if err != nil {
		return nil, err
	}
	var res queryResponse[faceObject]
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("remi: unexpected face catalog response: %w", err)
	}

	faces := make(map[string]string, len(res.Results))
	for _, face := range res.Results {
		if face.Name != "" && face.ObjectID != "" {
			faces[face.Name] = face.ObjectID
		}
	}

	s.mu.Lock()
	s.faces = faces
	s.mu.Unlock()
	s.logger.Debug("refreshed face catalog", zap.Int("count", len(faces)))
	return s.snapshotFaces(), nil
}

func (s *service) snapshotFaces() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	faces := make(map[string]string, len(s.faces))
	for name, id := range s.faces {
		faces[name] = id
	}
	return faces
}

// ResolveFace maps a face name to its object id. A miss forces one catalog
// refresh before giving up, since the catalog can be stale relative to
// backend-side additions.
func (s *service) ResolveFace(ctx context.Context, name string) (string, error) {
	name = apiFaceName(name)
	if id, ok := s.snapshotFaces()[name]; ok {
		return id, nil
	}
	if _, err := s.Faces(ctx, true); err != nil {
		return "", err
	}
	if id, ok := s.snapshotFaces()[name]; ok {
		return id, nil
	}
	return "", &NotFoundError{Resource: "face", Name: name}
}

// FaceName is the reverse lookup, with the same single forced-refresh retry.
// An empty name with a nil error means the id is truly unknown.
func (s *service) FaceName(ctx context.Context, faceID string) (string, error) {
	if name, ok := lo.FindKey(s.snapshotFaces(), faceID); ok {
		return name, nil
	}
	if _, err := s.Faces(ctx, true); err != nil {
		return "", err
	}
	name, _ := lo.FindKey(s.snapshotFaces(), faceID)
	return name, nil
}

// CurrentFace returns the friendly name of the device's active face.
func (s *service) CurrentFace(ctx context.Context, objectID string) (string, error) {
	info, err := s.GetDeviceInfo(ctx, objectID, false)
	if err != nil {
		return "", err
	}
	if info.FaceID == "" {
		return "", nil
	}
	return s.FaceName(ctx, info.FaceID)
}

func (s *service) SetFaceByName(ctx context.Context, objectID, name string) error {
	faceID, err := s.ResolveFace(ctx, name)
	if err != nil {
		return err
	}
	return s.updateDevice(ctx, objectID, map[string]any{"face": facePointer(faceID)})
}

func (s *service) TurnOn(ctx context.Context, objectID string) error {
	return s.SetFaceByName(ctx, objectID, faceOn)
}

func (s *service) TurnOff(ctx context.Context, objectID string) error {
	return s.SetFaceByName(ctx, objectID, faceOff)
}
