package main

import (
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
)

// config follows the relay's own env-driven config pattern, scaled down to
// what a two-peer demo needs.
var config = struct {
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	BridgeURL            string `env:"BRIDGE_URL" envDefault:"http://localhost:8081/bridge"`
	HeartbeatReconnectMs int    `env:"HEARTBEAT_RECONNECT_MS" envDefault:"15000"`
	ConnectingDeadlineMs int    `env:"CONNECTING_DEADLINE_MS" envDefault:"14000"`
}{}

func loadConfig() error {
	if err := env.Parse(&config); err != nil {
		return err
	}
	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, using default 'info'", config.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	return nil
}
