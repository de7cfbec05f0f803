package main

import (
	"log/slog"

	"github.com/kstaniek/go-bxcan/internal/hub"
)

// initHub builds the fan-out hub; cfg is already validated.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.HubBuffer
	h.Policy, _ = hub.ParsePolicy(cfg.HubPolicy)
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}
