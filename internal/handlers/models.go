package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openrelay/claude-relay/internal/config"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ModelsHandler reports the models reachable through the configured
// providers, in the list shape clients already parse.
type ModelsHandler struct {
	config *config.Manager
	logger *logrus.Logger
}

func NewModelsHandler(config *config.Manager, logger *logrus.Logger) *ModelsHandler {
	return &ModelsHandler{
		config: config,
		logger: logger,
	}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()
	now := time.Now().Unix()

	list := modelList{Object: "list"}
	for name, p := range cfg.Providers {
		if p.Model == "" {
			continue
		}
		list.Data = append(list.Data, modelEntry{
			ID:      p.Model,
			Object:  "model",
			Created: now,
			OwnedBy: name,
		})
	}
	sort.Slice(list.Data, func(i, j int) bool { return list.Data[i].ID < list.Data[j].ID })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.WithError(err).Error("failed to write model list")
	}
}
