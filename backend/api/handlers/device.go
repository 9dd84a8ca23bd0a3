package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
	"videosurveillance/platform/backend/store"
)

type deviceModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &deviceModule{deps: deps}
	})
}

func (m *deviceModule) Prefix() string {
	return m.deps.Config.APIBase + "/devices"
}

func (m *deviceModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/", Summary: "List devices", Handler: m.list},
		{Method: http.MethodGet, Pattern: "/{id}", Summary: "Get device detail", Handler: m.detail},
		{Method: http.MethodPost, Pattern: "/delete", Summary: "Delete devices", Handler: m.delete},
		{Method: http.MethodGet, Pattern: "/{id}/channels", Summary: "List channels of a device", Handler: m.listChannels},
		{Method: http.MethodPost, Pattern: "/{id}/password", Summary: "Set device auth password", Handler: m.setPassword},
		{Method: http.MethodPost, Pattern: "/{id}/catalog/query", Summary: "Send catalog query to device", Handler: m.queryCatalog},
		{Method: http.MethodPost, Pattern: "/{id}/info/query", Summary: "Send device info query to device", Handler: m.queryDeviceInfo},
		{Method: http.MethodGet, Pattern: "/online", Summary: "List in-memory device sessions", Handler: m.onlineSessions},
	}
}

func (m *deviceModule) list(w http.ResponseWriter, r *http.Request) {
	result, err := m.deps.Store.ListDevices(r.Context(), store.DeviceListRequest{
		Keyword: strings.TrimSpace(r.URL.Query().Get("keyword")),
		Status:  strings.TrimSpace(r.URL.Query().Get("status")),
		Page:    parseIntOrDefault(r.URL.Query().Get("page"), 1),
		Limit:   parseIntOrDefault(r.URL.Query().Get("limit"), 20),
	})
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, result)
}

func (m *deviceModule) detail(w http.ResponseWriter, r *http.Request) {
	device, ok := m.lookupDevice(w, r)
	if !ok {
		return
	}
	channels, err := m.deps.Store.CountChannelsByDeviceID(r.Context(), device.DeviceID)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	online := m.deps.Signaling != nil && m.deps.Signaling.IsDeviceOnline(device.DeviceID)
	httpapi.OK(w, map[string]any{
		"device":       device,
		"channelCount": channels,
		"online":       online,
	})
}

func (m *deviceModule) delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	affected, err := m.deps.Store.DeleteDevices(r.Context(), req.IDs)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, map[string]any{"affected": affected})
}

func (m *deviceModule) listChannels(w http.ResponseWriter, r *http.Request) {
	device, ok := m.lookupDevice(w, r)
	if !ok {
		return
	}
	result, err := m.deps.Store.ListChannelsByDeviceID(r.Context(), device.DeviceID,
		parseIntOrDefault(r.URL.Query().Get("page"), 1),
		parseIntOrDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, result)
}

func (m *deviceModule) setPassword(w http.ResponseWriter, r *http.Request) {
	device, ok := m.lookupDevice(w, r)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.deps.Store.SetDeviceAuthPassword(r.Context(), device.DeviceID, req.Password); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OKMessage(w, "password updated")
}

func (m *deviceModule) queryCatalog(w http.ResponseWriter, r *http.Request) {
	device, ok := m.lookupDevice(w, r)
	if !ok {
		return
	}
	if m.deps.Signaling == nil {
		httpapi.Error(w, -1, "signaling service not available", http.StatusOK)
		return
	}
	if err := m.deps.Signaling.QueryCatalog(r.Context(), device.DeviceID); err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OKMessage(w, "catalog query dispatched")
}

func (m *deviceModule) queryDeviceInfo(w http.ResponseWriter, r *http.Request) {
	device, ok := m.lookupDevice(w, r)
	if !ok {
		return
	}
	if m.deps.Signaling == nil {
		httpapi.Error(w, -1, "signaling service not available", http.StatusOK)
		return
	}
	if err := m.deps.Signaling.QueryDeviceInfo(r.Context(), device.DeviceID); err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.OKMessage(w, "device info query dispatched")
}

func (m *deviceModule) onlineSessions(w http.ResponseWriter, r *http.Request) {
	if m.deps.Signaling == nil {
		httpapi.Error(w, -1, "signaling service not available", http.StatusOK)
		return
	}
	httpapi.OK(w, m.deps.Signaling.Registry().Sessions())
}

// lookupDevice resolves {id} as the numeric row id first, falling back to the
// national device id so callers can use either.
func (m *deviceModule) lookupDevice(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		httpapi.Error(w, -1, "device id is required", http.StatusBadRequest)
		return nil, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 && len(raw) < 18 {
		device, err := m.deps.Store.GetDeviceByID(r.Context(), id)
		if err != nil {
			httpapi.Error(w, -1, "device not found", http.StatusNotFound)
			return nil, false
		}
		return device, true
	}
	device, err := m.deps.Store.GetDeviceByDeviceID(r.Context(), raw)
	if err != nil {
		httpapi.Error(w, -1, "device not found", http.StatusNotFound)
		return nil, false
	}
	return device, true
}
