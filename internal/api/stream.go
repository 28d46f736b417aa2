package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cafepos/internal/logger"
	"cafepos/internal/middleware"
)

// keepAliveInterval keeps idle proxies from closing the stream.
const keepAliveInterval = 25 * time.Second

// priceUpdates streams catalog changes as server-sent events until the
// client goes away.
func (h *Handler) priceUpdates(w http.ResponseWriter, r *http.Request) {
	if h.Broker == nil {
		unavailable(w, r, "price updates")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.LogWarn("Could not clear write deadline for price stream: %v", err)
	}

	updates, cancel := h.Broker.Subscribe(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\n\n", middleware.GetRequestID(r.Context()))
	if err := rc.Flush(); err != nil {
		logger.LogWarn("Price stream does not support flushing: %v", err)
		return
	}

	logger.LogInfo("Price update stream opened for %s", logger.GetClientIP(r))
	defer logger.LogInfo("Price update stream closed for %s", logger.GetClientIP(r))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				logger.LogError("Failed to encode price update: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: price-update\ndata: %s\n\n", payload); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
