package config

import (
	"net"
	"net/url"

	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/bus/wsbus"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/server"
)

// BusURL returns the websocket URL clients dial: URL when set, otherwise
// ws://<Listen>/bus with an unspecified host replaced by the loopback
// address.
func (c *BusConfig) BusURL() string {
	if c.URL != "" {
		return c.URL
	}

	host, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		host, port = c.Listen, ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	hostport := host
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	}

	u := url.URL{Scheme: "ws", Host: hostport, Path: wsbus.BusPath}
	return u.String()
}

// CreateBusServer creates the websocket server exposing hub with the
// configured tuning.
func CreateBusServer(hub *bus.Hub, cfg *BusConfig, m metrics.BusMetrics) *wsbus.Server {
	return wsbus.NewServer(hub, wsbus.ServerConfig{
		SendQueue:    cfg.SendQueue,
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}, m)
}

// ProviderServerConfig returns the configuration for the provider server.
func (c *Config) ProviderServerConfig(m metrics.ServerMetrics) server.Config {
	return server.Config{
		Interner:       protocol.InternerKind(c.Server.Interner),
		RequestTimeout: c.Server.RequestTimeout,
		Metrics:        m,
	}
}
