package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"sigs.k8s.io/yaml"

	"github.com/kagenti/mcp-hub/internal/config"
)

// configHandler implements the supplemented /config push endpoint
// (SPEC_FULL.md §4): an authenticated way for an external controller to
// replace the running Settings document, grounded on the teacher's
// internal/broker/config_handler.go.
type configHandler struct {
	store     *config.Store
	authToken string
	logger    *slog.Logger
}

func (h *configHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.authToken {
			h.logger.Warn("unauthorized config update attempt")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var doc config.Settings
	if err := yaml.Unmarshal(body, &doc); err != nil {
		h.logger.Error("failed to parse config push", "error", err)
		http.Error(w, "invalid YAML document", http.StatusBadRequest)
		return
	}

	err = h.store.Mutate(context.Background(), func(s *config.Settings) error {
		*s = doc
		return nil
	})
	if err != nil {
		h.logger.Error("rejecting config push", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("configuration updated via /config", "upstreams", len(doc.Upstreams), "groups", len(doc.Groups))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"upstreams": len(doc.Upstreams),
		"groups":    len(doc.Groups),
	})
}
