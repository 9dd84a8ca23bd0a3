package handlers

import (
	"net/http"

	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/httpapi"
	"videosurveillance/platform/backend/router"
)

type runtimeConfigModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &runtimeConfigModule{deps: deps}
	})
}

func (m *runtimeConfigModule) Prefix() string {
	return m.deps.Config.APIBase + "/config"
}

func (m *runtimeConfigModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/", Summary: "Get runtime config", Handler: m.get},
		{Method: http.MethodPost, Pattern: "/", Summary: "Save runtime config", Handler: m.save},
	}
}

func (m *runtimeConfigModule) get(w http.ResponseWriter, r *http.Request) {
	cfg := m.deps.Config
	if m.deps.ConfigMgr != nil {
		cfg = m.deps.ConfigMgr.Current()
	}
	httpapi.OK(w, configPayload(cfg))
}

func (m *runtimeConfigModule) save(w http.ResponseWriter, r *http.Request) {
	if m.deps.ConfigMgr == nil {
		httpapi.Error(w, -1, "config manager not available", http.StatusOK)
		return
	}
	base := m.deps.ConfigMgr.Current()
	next, err := decodeConfigPatch(r, base)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	saved, err := m.deps.ConfigMgr.Save(next)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, configPayload(saved))
}

// decodeConfigPatch merges a partial JSON payload over the current config so
// omitted fields keep their values.
func decodeConfigPatch(r *http.Request, base config.Config) (config.Config, error) {
	var req map[string]any
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return base, err
	}
	if value, ok := getString(req, "listenAddr"); ok {
		base.ListenAddr = value
	}
	if value, ok := getString(req, "allowOrigin"); ok {
		base.AllowOrigin = value
	}
	if value, ok := getBool(req, "debugMode"); ok {
		base.DebugMode = value
	}
	if value, ok := getBool(req, "enableDebugLogs"); ok {
		base.EnableDebugLogs = value
	}
	if value, ok := getString(req, "sipId"); ok {
		base.SIPID = value
	}
	if value, ok := getString(req, "sipDomain"); ok {
		base.SIPDomain = value
	}
	if value, ok := getString(req, "sipPassword"); ok {
		base.SIPPassword = value
	}
	if value, ok := getString(req, "sipListenIp"); ok {
		base.SIPListenIP = value
	}
	if value, ok := getInt(req, "sipListenPort"); ok {
		base.SIPListenPort = value
	}
	if value, ok := getString(req, "sipTransport"); ok {
		base.SIPTransport = value
	}
	if value, ok := getInt(req, "registerExpires"); ok {
		base.RegisterExpires = value
	}
	if value, ok := getInt(req, "keepaliveTimeout"); ok {
		base.KeepaliveTimeout = value
	}
	if value, ok := getString(req, "mediaIp"); ok {
		base.MediaIP = value
	}
	if value, ok := getString(req, "zlmSecret"); ok {
		base.ZLMSecret = value
	}
	if value, ok := getInt(req, "zlmHttpPort"); ok {
		base.ZLMHTTPPort = value
	}
	if value, ok := getInt(req, "zlmRtmpPort"); ok {
		base.ZLMRTMPPort = value
	}
	if value, ok := getInt(req, "zlmRtspPort"); ok {
		base.ZLMRTSPPort = value
	}
	if value, ok := getString(req, "zlmApiBaseUrl"); ok {
		base.ZLMAPIBaseURL = value
	}
	return base, nil
}

func configPayload(cfg config.Config) map[string]any {
	return map[string]any{
		"listenAddr":       cfg.ListenAddr,
		"allowOrigin":      cfg.AllowOrigin,
		"debugMode":        cfg.DebugMode,
		"enableDebugLogs":  cfg.EnableDebugLogs,
		"sipId":            cfg.SIPID,
		"sipDomain":        cfg.SIPDomain,
		"sipListenIp":      cfg.SIPListenIP,
		"sipListenPort":    cfg.SIPListenPort,
		"sipTransport":     cfg.SIPTransport,
		"registerExpires":  cfg.RegisterExpires,
		"keepaliveTimeout": cfg.KeepaliveTimeout,
		"mediaIp":          cfg.MediaIP,
		"zlmHttpPort":      cfg.ZLMHTTPPort,
		"zlmRtmpPort":      cfg.ZLMRTMPPort,
		"zlmRtspPort":      cfg.ZLMRTSPPort,
		"zlmApiBaseUrl":    cfg.ZLMAPIBaseURL,
	}
}

func getString(payload map[string]any, key string) (string, bool) {
	value, ok := payload[key]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

func getInt(payload map[string]any, key string) (int, bool) {
	value, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch number := value.(type) {
	case float64:
		return int(number), true
	case int:
		return number, true
	}
	return 0, false
}

func getBool(payload map[string]any, key string) (bool, bool) {
	value, ok := payload[key]
	if !ok {
		return false, false
	}
	flag, ok := value.(bool)
	return flag, ok
}
