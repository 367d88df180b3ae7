package startup

import (
	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/session"
	"github.com/meshsync/internal/storage"
)

// EngineOptions maps the loaded config onto the engine and its gateway
// session. The session dials with the gorilla websocket dialer.
func EngineOptions(cfg *config.Config, store storage.MarkerStore) engine.Options {
	return engine.Options{
		Session: session.Config{
			URL:             cfg.GatewayURL,
			ReconnectMin:    cfg.ReconnectMin,
			ReconnectMax:    cfg.ReconnectMax,
			PingPeriod:      cfg.PingPeriod,
			PongWait:        cfg.PongWait,
			SnapshotTimeout: cfg.SnapshotTimeout,
			SendRatePerMin:  cfg.SendRatePerMin,
			SendBurst:       cfg.SendBurst,
			MaxFrameSize:    cfg.MaxFrameSize,
		},
		Dialer:           session.NewWebsocketDialer(),
		Store:            store,
		QueueSize:        cfg.QueueSize,
		SubscriberBuffer: cfg.SubscriberBuffer,
		AckTimeout:       cfg.AckTimeout,
		AckCheckInterval: cfg.AckCheckInterval,
	}
}
