package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
)

type streamModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &streamModule{deps: deps}
	})
}

func (m *streamModule) Prefix() string {
	return m.deps.Config.APIBase + "/streams"
}

func (m *streamModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/live", Summary: "Start live view for a channel", Handler: m.startLive},
		{Method: http.MethodPost, Pattern: "/proxy", Summary: "Start pull proxy for an external source", Handler: m.startProxy},
		{Method: http.MethodPost, Pattern: "/{sessionId}/stop", Summary: "Stop a stream session", Handler: m.stop},
		{Method: http.MethodGet, Pattern: "/{sessionId}", Summary: "Get stream session detail", Handler: m.info},
		{Method: http.MethodGet, Pattern: "/", Summary: "List stream sessions", Handler: m.list},
		{Method: http.MethodGet, Pattern: "/active", Summary: "List active stream sessions", Handler: m.active},
		{Method: http.MethodPost, Pattern: "/{sessionId}/push", Summary: "Forward a session to another RTP destination", Handler: m.push},
		{Method: http.MethodPost, Pattern: "/{sessionId}/push/stop", Summary: "Stop forwarding a session", Handler: m.stopPush},
		{Method: http.MethodGet, Pattern: "/media/list", Summary: "List media server streams", Handler: m.mediaList},
		{Method: http.MethodGet, Pattern: "/media/config", Summary: "Get media server config", Handler: m.mediaConfig},
	}
}

func (m *streamModule) startLive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID  string `json:"deviceId"`
		ChannelID string `json:"channelId"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := m.deps.Streams.StartLive(r.Context(), req.DeviceID, req.ChannelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, session)
}

func (m *streamModule) startProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID  string `json:"deviceId"`
		ChannelID string `json:"channelId"`
		SourceURL string `json:"sourceUrl"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := m.deps.Streams.StartProxy(r.Context(), req.DeviceID, req.ChannelID, req.SourceURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, session)
}

func (m *streamModule) stop(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		httpapi.Error(w, -1, "session id is required", http.StatusBadRequest)
		return
	}
	found, err := m.deps.Streams.Stop(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"found": found})
}

func (m *streamModule) info(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		httpapi.Error(w, -1, "session id is required", http.StatusBadRequest)
		return
	}
	session, err := m.deps.Streams.Info(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, session)
}

func (m *streamModule) list(w http.ResponseWriter, r *http.Request) {
	items, err := m.deps.Streams.List(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("status")),
		parseIntOrDefault(r.URL.Query().Get("limit"), 200))
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, items)
}

func (m *streamModule) active(w http.ResponseWriter, r *http.Request) {
	items, err := m.deps.Streams.Active(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, items)
}

func (m *streamModule) push(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	var req struct {
		DstURL  string `json:"dstUrl"`
		DstPort int    `json:"dstPort"`
		UDP     bool   `json:"udp"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if sessionID == "" || strings.TrimSpace(req.DstURL) == "" || req.DstPort <= 0 {
		httpapi.Error(w, -1, "session id, dstUrl and dstPort are required", http.StatusBadRequest)
		return
	}
	if err := m.deps.Media.PushTo(r.Context(), sessionID, req.DstURL, req.DstPort, req.UDP); err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OKMessage(w, "push started")
}

func (m *streamModule) stopPush(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		httpapi.Error(w, -1, "session id is required", http.StatusBadRequest)
		return
	}
	if err := m.deps.Media.StopPush(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OKMessage(w, "push stopped")
}

func (m *streamModule) mediaList(w http.ResponseWriter, r *http.Request) {
	items, err := m.deps.Media.MediaList(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, items)
}

func (m *streamModule) mediaConfig(w http.ResponseWriter, r *http.Request) {
	configs, err := m.deps.Media.ServerConfig(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OK(w, configs)
}
