package main

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Admin HTTP API.
//
// Endpoints:
//   POST /admin/publish?channel=c  body is the JSON event payload
//   POST /admin/drop               drop every session uncleanly
//   POST /admin/close              close every session normally
//   GET  /admin/stats              sessions and counters
//   GET  /metrics                  prometheus metrics
// ---------------------------------------------------------------------------

const maxPublishBody = 1 << 20

func (srv *server) adminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/publish", srv.handleAdminPublish)
	mux.HandleFunc("/admin/drop", srv.handleAdminDrop)
	mux.HandleFunc("/admin/close", srv.handleAdminClose)
	mux.HandleFunc("/admin/stats", srv.handleAdminStats)
	mux.Handle("/metrics", promhttp.HandlerFor(srv.metrics.registry, promhttp.HandlerOpts{}))
}

func jsonResponse(writer http.ResponseWriter, status int, value interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = wire.NewEncoder(writer).Encode(value)
}

func jsonError(writer http.ResponseWriter, status int, message string) {
	jsonResponse(writer, status, map[string]string{"error": message})
}

func (srv *server) handleAdminPublish(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		jsonError(writer, http.StatusMethodNotAllowed, "use POST")
		return
	}
	channel := request.URL.Query().Get("channel")
	if channel == "" {
		jsonError(writer, http.StatusBadRequest, "missing channel")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(request.Body, maxPublishBody))
	if err != nil {
		jsonError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload) == 0 {
		payload = []byte("null")
	}
	if !wire.Valid(payload) {
		jsonError(writer, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	delivered, err := srv.publish(channel, payload)
	if err != nil {
		jsonError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	srv.logger.Debug("published", zap.String("channel", channel), zap.Int("delivered", delivered))
	jsonResponse(writer, http.StatusOK, map[string]interface{}{"channel": channel, "delivered": delivered})
}

func (srv *server) handleAdminDrop(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		jsonError(writer, http.StatusMethodNotAllowed, "use POST")
		return
	}
	jsonResponse(writer, http.StatusOK, map[string]int{"dropped": srv.dropAll()})
}

func (srv *server) handleAdminClose(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		jsonError(writer, http.StatusMethodNotAllowed, "use POST")
		return
	}
	jsonResponse(writer, http.StatusOK, map[string]int{"closed": srv.closeAll("closed by admin")})
}

func (srv *server) handleAdminStats(writer http.ResponseWriter, request *http.Request) {
	jsonResponse(writer, http.StatusOK, srv.stats())
}
