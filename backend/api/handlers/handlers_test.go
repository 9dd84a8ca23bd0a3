package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/router"
	"videosurveillance/platform/backend/service/events"
	gbsvc "videosurveillance/platform/backend/service/gb28181"
	"videosurveillance/platform/backend/service/media"
	streamsvc "videosurveillance/platform/backend/service/stream"
	"videosurveillance/platform/backend/store"
)

type noopTransport struct{}

func (noopTransport) SendTo(transport string, deviceID string, remoteAddr string, payload string) error {
	return nil
}
func (noopTransport) BindDevice(deviceID string, remote string) {}

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	storeDB, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeDB.Close() })

	cfg := config.Config{
		APIBase:         "/api",
		AllowOrigin:     "*",
		SIPID:           "34020000002000000001",
		SIPDomain:       "3402000000",
		SIPListenIP:     "127.0.0.1",
		SIPListenPort:   5060,
		RegisterExpires: 3600,
		MediaIP:         "127.0.0.1",
		ZLMAPIBaseURL:   "http://127.0.0.1:1",
		ZLMHTTPPort:     8080,
		ZLMRTMPPort:     1935,
		ZLMRTSPPort:     554,
	}
	orchestrator := media.NewOrchestrator(storeDB, cfg)
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	signaling := gbsvc.New(storeDB, cfg, noopTransport{}, orchestrator, hub)

	handler, _ := router.Build(&router.Dependencies{
		Config:    cfg,
		Store:     storeDB,
		Signaling: signaling,
		Streams:   streamsvc.New(storeDB, orchestrator, signaling),
		Media:     orchestrator,
		Events:    hub,
	})
	return handler, storeDB
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, handler http.Handler, method string, path string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	var result envelope
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	}
	return recorder, result
}

func TestHealthRoute(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, 0, result.Code)
	require.Contains(t, string(result.Data), `"status":"ok"`)
}

func TestDeviceListEmpty(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, 0, result.Code)

	var page store.QueryPageModel[store.Device]
	require.NoError(t, json.Unmarshal(result.Data, &page))
	require.Zero(t, page.DataCount)
}

func TestDeviceDetailAcceptsNationalID(t *testing.T) {
	handler, storeDB := newTestRouter(t)
	_, err := storeDB.UpsertRuntimeDevice(context.Background(), store.DeviceUpsertRequest{
		DeviceID: "34020000001320000001", IPAddress: "10.0.0.1", Port: 5060, Transport: "udp",
		Status: store.DeviceStatusOnline,
	})
	require.NoError(t, err)

	recorder, result := doRequest(t, handler, http.MethodGet, "/api/devices/34020000001320000001", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, 0, result.Code)
	require.Contains(t, string(result.Data), `"deviceId":"34020000001320000001"`)

	recorder, _ = doRequest(t, handler, http.MethodGet, "/api/devices/34020000009999999999", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestPTZControlValidation(t *testing.T) {
	handler, _ := newTestRouter(t)

	// Unknown command maps to a bad request.
	recorder, result := doRequest(t, handler, http.MethodPost, "/api/ptz/control",
		`{"deviceId":"34020000001320000001","channelId":"34020000001310000001","command":"SPIN","speed":50}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, -1, result.Code)

	// Unknown device maps to not found.
	recorder, _ = doRequest(t, handler, http.MethodPost, "/api/ptz/control",
		`{"deviceId":"34020000001320000001","channelId":"34020000001310000001","command":"UP","speed":50}`)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestPTZCommandList(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodGet, "/api/ptz/commands", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var commands []string
	require.NoError(t, json.Unmarshal(result.Data, &commands))
	require.Contains(t, commands, "UP")
	require.Contains(t, commands, "ZOOM_IN")
	require.Contains(t, commands, "STOP")
}

func TestStartLiveForOfflineDevice(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodPost, "/api/streams/live",
		`{"deviceId":"34020000001320000001","channelId":"34020000001310000001"}`)
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, -1, result.Code)
}

func TestStreamInfoUnknownSession(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, _ := doRequest(t, handler, http.MethodGet, "/api/streams/missing", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRuntimeConfigGetWithoutManager(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, string(result.Data), `"sipId":"34020000002000000001"`)
	// The SIP password never leaves the config endpoint.
	require.NotContains(t, string(result.Data), "sipPassword")
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder, result := doRequest(t, handler, http.MethodPost, "/api/devices/delete",
		`{"ids":[1],"bogus":true}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, -1, result.Code)
}
