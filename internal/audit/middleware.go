package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/guardrail/internal/common"
)

// HTTPRecorder writes one audit entry per administrative request, after the
// handler has produced its status.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig shapes the entry recorded for one route group.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
	ActorFunc       func(*http.Request) Actor
}

// Middleware returns the chi middleware recording entries per cfg. Recording
// failures go to OnError and never affect the response.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, req)

			actor := r.resolveActor(req, cfg)
			resourceID := ""
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			metadata := encodeMetadata(cfg, req, sw.Status())

			err := r.Service.Record(req.Context(), actor, cfg.Action, cfg.ResourceType, resourceID, req, sw.Status(), metadata)
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (r HTTPRecorder) resolveActor(req *http.Request, cfg HTTPConfig) Actor {
	if cfg.ActorFunc != nil {
		return cfg.ActorFunc(req)
	}
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if req != nil {
		if subject, ok := common.Subject(req.Context()); ok && subject != "" {
			return Actor{Kind: ActorKindOperator, Subject: &subject}
		}
	}
	return Actor{Kind: ActorKindAnonymous}
}

func encodeMetadata(cfg HTTPConfig, req *http.Request, status int) []byte {
	if cfg.MetadataFunc == nil {
		return nil
	}
	payload := cfg.MetadataFunc(req, status)
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// statusWriter captures the handler's status; zero means the handler never
// called WriteHeader, which net/http treats as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
