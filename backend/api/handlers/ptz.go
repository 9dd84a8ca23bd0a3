package handlers

import (
	"net/http"

	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
	"videosurveillance/platform/backend/service/ptz"
)

type ptzModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &ptzModule{deps: deps}
	})
}

func (m *ptzModule) Prefix() string {
	return m.deps.Config.APIBase + "/ptz"
}

func (m *ptzModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/control", Summary: "Send a PTZ command to a channel", Handler: m.control},
		{Method: http.MethodGet, Pattern: "/commands", Summary: "List supported PTZ commands", Handler: m.commands},
	}
}

func (m *ptzModule) control(w http.ResponseWriter, r *http.Request) {
	if m.deps.Signaling == nil {
		httpapi.Error(w, -1, "signaling service not available", http.StatusOK)
		return
	}
	var req struct {
		DeviceID  string `json:"deviceId"`
		ChannelID string `json:"channelId"`
		Command   string `json:"command"`
		Speed     int    `json:"speed"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.deps.Signaling.ControlPTZ(r.Context(), req.DeviceID, req.ChannelID, req.Command, req.Speed); err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OKMessage(w, "ptz command dispatched")
}

func (m *ptzModule) commands(w http.ResponseWriter, r *http.Request) {
	httpapi.OK(w, ptz.Commands())
}
