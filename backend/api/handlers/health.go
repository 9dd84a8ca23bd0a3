package handlers

import (
	"net/http"
	"runtime"
	"time"

	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
)

type healthModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &healthModule{deps: deps}
	})
}

func (m *healthModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *healthModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/health", Summary: "Health check", Handler: m.health},
		{Method: http.MethodGet, Pattern: "/capabilities", Summary: "Capability manifest", Handler: m.capabilities},
	}
}

func (m *healthModule) health(w http.ResponseWriter, r *http.Request) {
	type payload struct {
		Status        string `json:"status"`
		Now           string `json:"now"`
		GoVersion     string `json:"goVersion"`
		OnlineDevices int    `json:"onlineDevices"`
	}
	online := 0
	if m.deps.Signaling != nil {
		online = m.deps.Signaling.Registry().OnlineCount()
	}
	httpapi.OK(w, payload{
		Status:        "ok",
		Now:           time.Now().Format(time.RFC3339),
		GoVersion:     runtime.Version(),
		OnlineDevices: online,
	})
}

func (m *healthModule) capabilities(w http.ResponseWriter, r *http.Request) {
	type capability struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	httpapi.OK(w, []capability{
		{Name: "sip.register", Description: "Device registration with digest challenge"},
		{Name: "sip.keepalive", Description: "Keepalive driven presence tracking"},
		{Name: "sip.catalog", Description: "Channel catalog synchronization"},
		{Name: "stream.live", Description: "Live view via INVITE negotiated RTP push"},
		{Name: "stream.proxy", Description: "Pull proxy for external stream sources"},
		{Name: "ptz.control", Description: "Pan tilt zoom control over MANSCDP"},
		{Name: "events.websocket", Description: "Realtime platform events over websocket"},
	})
}
