package http

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig tunes the /ws/loans stream.
type StreamConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// StreamConfigDefaults returns a config with default values.
func StreamConfigDefaults() StreamConfig {
	return StreamConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

func (c StreamConfig) withDefaults() StreamConfig {
	d := StreamConfigDefaults()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 2 * c.PingInterval
	}
	return c
}

// streamLoans pushes every published comparison to the client, starting with
// the latest one. Client messages are ignored; the stream ends when the client
// goes away or the service stops.
func (a *API) streamLoans(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, snapshots := a.comparer.Subscribe()
	defer a.comparer.Unsubscribe(id)

	cfg := a.config.Stream
	logger := a.logger.With("subscriber", id.String())
	logger.Debug("stream opened", "remote", r.RemoteAddr)

	// The read loop only services control frames and detects disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("stream closed by client")
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "service stopping"),
					time.Now().Add(cfg.WriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				logger.Debug("stream ping failed", "error", err)
				return
			}
		}
	}
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(a.config.AllowedOrigins, "*") {
		return true
	}
	if slices.ContainsFunc(a.config.AllowedOrigins, func(o string) bool { return strings.EqualFold(o, origin) }) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
