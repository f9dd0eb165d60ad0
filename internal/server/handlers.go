package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/logging"
	"mediaminer/internal/services"
)

const maxBodyBytes = 4 << 20

// GenerateRequest is the body of POST /v1/generate. Omitted max_tokens and
// temperature fall back to the configured defaults.
type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// GenerateResponse is the body of a successful generate call.
type GenerateResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ResetRequest is the body of POST /v1/workers/reset.
type ResetRequest struct {
	MaxWorkers int `json:"max_workers"`
}

// ProviderView describes a provider without exposing secrets.
type ProviderView struct {
	Name              string `json:"name"`
	Priority          int    `json:"priority"`
	Family            string `json:"family"`
	Model             string `json:"model"`
	BaseURL           string `json:"base_url,omitempty"`
	CredentialSources int    `json:"credential_sources"`
	Credentials       int    `json:"credentials"`
	Current           bool   `json:"current"`
}

// ProvidersResponse is the body of GET /v1/providers.
type ProvidersResponse struct {
	Providers []ProviderView `json:"providers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if !s.decode(w, r, &body) {
		return
	}
	req := dispatch.Request{
		Prompt:       body.Prompt,
		SystemPrompt: body.SystemPrompt,
		MaxTokens:    body.MaxTokens,
		Temperature:  s.defaultTemperature,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.defaultMaxTokens
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}

	result, err := s.dispatcher.Generate(r.Context(), req)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, GenerateResponse{
			Text:     result.Text,
			Provider: result.Provider,
			Model:    result.Model,
		})
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrAllProvidersExhausted):
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "generate failed", "generate_exhausted",
			logging.Error(err),
			logging.String(logging.FieldImpact, "caller receives 503"),
		)
		s.writeError(w, http.StatusServiceUnavailable, dispatch.ErrAllProvidersExhausted.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Controller().Snapshot())
}

func (s *Server) handleWorkersReset(w http.ResponseWriter, r *http.Request) {
	var body ResetRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.MaxWorkers < 0 {
		s.writeError(w, http.StatusBadRequest, "max_workers must not be negative")
		return
	}
	controller := s.dispatcher.Controller()
	controller.Reset(body.MaxWorkers)
	snapshot := controller.Snapshot()
	s.logger.Info("workers reset", logging.Int(logging.FieldWorkers, snapshot.RecommendedWorkers))
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	lookup := s.dispatcher.Lookup()
	current := s.dispatcher.CurrentProvider()
	descriptors := s.dispatcher.Registry().Providers()

	views := make([]ProviderView, 0, len(descriptors))
	for _, d := range descriptors {
		views = append(views, ProviderView{
			Name:              d.Name,
			Priority:          d.Priority,
			Family:            string(d.Family),
			Model:             d.Model,
			BaseURL:           d.BaseURL,
			CredentialSources: len(d.CredentialEnv),
			Credentials:       len(d.ResolveCredentials(lookup)),
			Current:           d.Name == current,
		})
	}
	s.writeJSON(w, http.StatusOK, ProvidersResponse{Providers: views})
}

// decode reads a JSON body. An empty body leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

