package handlers

import (
	"net/http"

	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
)

type eventsModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &eventsModule{deps: deps}
	})
}

func (m *eventsModule) Prefix() string {
	return m.deps.Config.APIBase + "/events"
}

func (m *eventsModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/ws", Summary: "Subscribe to platform events over websocket", Handler: m.subscribe},
		{Method: http.MethodGet, Pattern: "/clients", Summary: "Count connected event subscribers", Handler: m.clients},
	}
}

func (m *eventsModule) subscribe(w http.ResponseWriter, r *http.Request) {
	if m.deps.Events == nil {
		httpapi.Error(w, -1, "event hub not available", http.StatusOK)
		return
	}
	m.deps.Events.ServeHTTP(w, r)
}

func (m *eventsModule) clients(w http.ResponseWriter, r *http.Request) {
	if m.deps.Events == nil {
		httpapi.Error(w, -1, "event hub not available", http.StatusOK)
		return
	}
	httpapi.OK(w, map[string]any{"clients": m.deps.Events.ClientCount()})
}
