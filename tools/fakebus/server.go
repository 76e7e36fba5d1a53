package main

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// session is one websocket client. subscriptions is guarded by server.lock.
type session struct {
	id            uint64
	ws            *websocket.Conn
	writeLock     sync.Mutex
	subscriptions map[string]contentFilter
}

func (current *session) write(data []byte) error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()
	if err := current.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return current.ws.WriteMessage(websocket.TextMessage, data)
}

func (current *session) closeNormally(reason string) error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()
	return current.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeTimeout))
}

type server struct {
	logger   *zap.Logger
	auth     *entitlements
	metrics  *serverMetrics
	upgrader websocket.Upgrader
	started  time.Time

	lock     sync.Mutex
	sessions map[uint64]*session

	sessionSeq atomic.Uint64
	published  atomic.Uint64
	delivered  atomic.Uint64
}

func newServer(logger *zap.Logger, auth *entitlements) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{
		logger:   logger,
		auth:     auth,
		metrics:  newServerMetrics(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		started:  time.Now(),
		sessions: make(map[uint64]*session),
	}
}

// ServeHTTP upgrades the request and serves the session until it ends.
func (srv *server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if !srv.auth.authenticate(request.URL.Query().Get("token")) {
		srv.metrics.rejected.Inc()
		srv.logger.Info("rejected session", zap.String("remote", request.RemoteAddr))
		http.Error(writer, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := srv.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		srv.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	current := &session{
		id:            srv.sessionSeq.Add(1),
		ws:            ws,
		subscriptions: make(map[string]contentFilter),
	}
	srv.lock.Lock()
	srv.sessions[current.id] = current
	srv.lock.Unlock()
	srv.metrics.accepted.Inc()
	srv.metrics.sessions.Inc()
	srv.logger.Info("session opened", zap.Uint64("session", current.id), zap.String("remote", request.RemoteAddr))

	defer func() {
		srv.lock.Lock()
		delete(srv.sessions, current.id)
		srv.lock.Unlock()
		srv.metrics.sessions.Dec()
		_ = ws.Close()
		srv.logger.Info("session closed", zap.Uint64("session", current.id))
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		response := srv.handleFrame(current, data)
		if response == nil {
			continue
		}
		if err := current.write(response); err != nil {
			srv.logger.Debug("write failed", zap.Uint64("session", current.id), zap.Error(err))
			return
		}
	}
}

// handleFrame applies one client frame and returns the reply to send, if any.
func (srv *server) handleFrame(current *session, data []byte) []byte {
	var frame request
	if err := wire.Unmarshal(data, &frame); err != nil || frame.ID == "" {
		srv.metrics.frames.WithLabelValues("malformed", frameError).Inc()
		srv.logger.Debug("malformed frame", zap.Uint64("session", current.id), zap.ByteString("data", data))
		return nil
	}

	failure := srv.apply(current, frame)
	result := frameAck
	var response []byte
	var err error
	if failure != "" {
		result = frameError
		response, err = errorFrame(frame.ID, failure)
	} else {
		response, err = ackFrame(frame.ID)
	}
	if err != nil {
		srv.logger.Warn("encode reply failed", zap.Error(err))
		return nil
	}
	srv.metrics.frames.WithLabelValues(frame.Type, result).Inc()
	srv.logger.Debug("frame",
		zap.Uint64("session", current.id),
		zap.String("type", frame.Type),
		zap.String("channel", frame.Channel),
		zap.String("result", result))
	return response
}

// apply returns a failure message, or "" on success.
func (srv *server) apply(current *session, frame request) string {
	switch frame.Type {
	case frameHeartbeat:
		return ""
	case frameSubscribe:
		if frame.Channel == "" {
			return "missing channel"
		}
		if !srv.auth.canSubscribe(frame.Channel) {
			return "not entitled to channel " + frame.Channel
		}
		filter, err := parseFilter(frame.Filter)
		if err != nil {
			return err.Error()
		}
		srv.lock.Lock()
		current.subscriptions[frame.Channel] = filter
		srv.lock.Unlock()
		return ""
	case frameUnsubscribe:
		srv.lock.Lock()
		defer srv.lock.Unlock()
		if _, exists := current.subscriptions[frame.Channel]; !exists {
			return "not subscribed to channel " + frame.Channel
		}
		delete(current.subscriptions, frame.Channel)
		return ""
	default:
		return "unknown frame type " + frame.Type
	}
}

// publish fans payload out to every session subscribed to channel whose
// filter matches, and returns the number of deliveries.
func (srv *server) publish(channel string, payload []byte) (int, error) {
	data, err := eventFrame(channel, payload)
	if err != nil {
		return 0, err
	}
	srv.published.Add(1)
	srv.metrics.published.Inc()

	var targets []*session
	srv.lock.Lock()
	for _, current := range srv.sessions {
		if filter, exists := current.subscriptions[channel]; exists && filter.matches(payload) {
			targets = append(targets, current)
		}
	}
	srv.lock.Unlock()

	delivered := 0
	for _, current := range targets {
		if err := current.write(data); err != nil {
			srv.logger.Debug("deliver failed", zap.Uint64("session", current.id), zap.Error(err))
			continue
		}
		delivered++
	}
	srv.delivered.Add(uint64(delivered))
	srv.metrics.delivered.Add(float64(delivered))
	return delivered, nil
}

func (srv *server) snapshot() []*session {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	sessions := make([]*session, 0, len(srv.sessions))
	for _, current := range srv.sessions {
		sessions = append(sessions, current)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	return sessions
}

// dropAll tears down every session without a close handshake, as a network
// failure would.
func (srv *server) dropAll() int {
	sessions := srv.snapshot()
	for _, current := range sessions {
		_ = current.ws.UnderlyingConn().Close()
	}
	srv.logger.Info("dropped sessions", zap.Int("count", len(sessions)))
	return len(sessions)
}

// closeAll ends every session with a normal closure.
func (srv *server) closeAll(reason string) int {
	sessions := srv.snapshot()
	for _, current := range sessions {
		if err := current.closeNormally(reason); err != nil {
			_ = current.ws.UnderlyingConn().Close()
		}
	}
	return len(sessions)
}

type sessionStats struct {
	ID       uint64   `json:"id"`
	Channels []string `json:"channels"`
}

type serverStats struct {
	Uptime    string         `json:"uptime"`
	Accepted  uint64         `json:"sessions_accepted"`
	Published uint64         `json:"published"`
	Delivered uint64         `json:"delivered"`
	Sessions  []sessionStats `json:"sessions"`
}

func (srv *server) stats() serverStats {
	stats := serverStats{
		Uptime:    time.Since(srv.started).Round(time.Millisecond).String(),
		Accepted:  srv.sessionSeq.Load(),
		Published: srv.published.Load(),
		Delivered: srv.delivered.Load(),
		Sessions:  []sessionStats{},
	}
	for _, current := range srv.snapshot() {
		srv.lock.Lock()
		channels := make([]string, 0, len(current.subscriptions))
		for channel := range current.subscriptions {
			channels = append(channels, channel)
		}
		srv.lock.Unlock()
		sort.Strings(channels)
		stats.Sessions = append(stats.Sessions, sessionStats{ID: current.id, Channels: channels})
	}
	return stats
}
