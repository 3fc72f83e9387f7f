package handlers

import (
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// TelemetryHandler absorbs client telemetry batches. Clients post these
// unconditionally; answering 200 keeps them quiet without forwarding
// anything anywhere.
type TelemetryHandler struct {
	logger *logrus.Logger
}

func NewTelemetryHandler(logger *logrus.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		logger: logger,
	}
}

func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, _ := io.Copy(io.Discard, r.Body)
	h.logger.WithField("bytes", n).Debug("discarded telemetry batch")
	w.WriteHeader(http.StatusOK)
}
