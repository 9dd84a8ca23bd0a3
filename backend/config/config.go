package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds runtime options for the surveillance platform service.
type Config struct {
	ListenAddr      string `json:"listenAddr"`
	DataDir         string `json:"dataDir"`
	DBPath          string `json:"dbPath"`
	APIBase         string `json:"apiBase"`
	AllowOrigin     string `json:"allowOrigin"`
	DebugMode       bool   `json:"debugMode"`
	EnableDebugLogs bool   `json:"enableDebugLogs"`

	SIPID            string `json:"sipId"`
	SIPDomain        string `json:"sipDomain"`
	SIPPassword      string `json:"sipPassword"`
	SIPListenIP      string `json:"sipListenIp"`
	SIPListenPort    int    `json:"sipListenPort"`
	SIPTransport     string `json:"sipTransport"`
	RegisterExpires  int    `json:"registerExpires"`
	KeepaliveTimeout int    `json:"keepaliveTimeout"`

	MediaIP       string `json:"mediaIp"`
	ZLMSecret     string `json:"zlmSecret"`
	ZLMHTTPPort   int    `json:"zlmHttpPort"`
	ZLMRTMPPort   int    `json:"zlmRtmpPort"`
	ZLMRTSPPort   int    `json:"zlmRtspPort"`
	ZLMAPIBaseURL string `json:"zlmApiBaseUrl"`

	ConfigFile string `json:"configFile"`
}

func resolveConfigFilePath() (string, error) {
	path := strings.TrimSpace(os.Getenv("VSP_CONFIG_FILE"))
	if path == "" {
		path = filepath.FromSlash("./data/config.json")
	}
	return filepath.Abs(path)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	if parsed <= 0 {
		return fallback
	}
	return parsed
}

func defaultConfig(configFile string) Config {
	cfg := Config{
		ListenAddr:       envOrDefault("VSP_LISTEN", ":18080"),
		DataDir:          envOrDefault("VSP_DATA_DIR", "data"),
		APIBase:          envOrDefault("VSP_API_BASE", "/api"),
		AllowOrigin:      envOrDefault("VSP_ALLOW_ORIGIN", "*"),
		SIPID:            envOrDefault("VSP_SIP_ID", "34020000002000000001"),
		SIPDomain:        envOrDefault("VSP_SIP_DOMAIN", "3402000000"),
		SIPPassword:      envOrDefault("VSP_SIP_PASSWORD", "12345678"),
		SIPListenIP:      envOrDefault("VSP_SIP_LISTEN_IP", "0.0.0.0"),
		SIPListenPort:    envIntOrDefault("VSP_SIP_LISTEN_PORT", 5060),
		SIPTransport:     envOrDefault("VSP_SIP_TRANSPORT", "udp"),
		RegisterExpires:  envIntOrDefault("VSP_REGISTER_EXPIRES", 3600),
		KeepaliveTimeout: envIntOrDefault("VSP_KEEPALIVE_TIMEOUT", 180),
		MediaIP:          envOrDefault("VSP_MEDIA_IP", "127.0.0.1"),
		ZLMSecret:        envOrDefault("VSP_ZLM_SECRET", ""),
		ZLMHTTPPort:      envIntOrDefault("VSP_ZLM_HTTP_PORT", 80),
		ZLMRTMPPort:      envIntOrDefault("VSP_ZLM_RTMP_PORT", 1935),
		ZLMRTSPPort:      envIntOrDefault("VSP_ZLM_RTSP_PORT", 554),
		ConfigFile:       configFile,
	}
	return normalizeConfig(cfg, configFile)
}

func normalizeConfig(cfg Config, configFile string) Config {
	configDir := filepath.Dir(configFile)

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":18080"
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = "/api"
	}
	cfg.APIBase = "/" + strings.Trim(strings.TrimSpace(cfg.APIBase), "/")
	if strings.TrimSpace(cfg.AllowOrigin) == "" {
		cfg.AllowOrigin = "*"
	}
	cfg.DebugMode = cfg.DebugMode || cfg.EnableDebugLogs

	if strings.TrimSpace(cfg.SIPID) == "" {
		cfg.SIPID = "34020000002000000001"
	}
	if strings.TrimSpace(cfg.SIPDomain) == "" {
		cfg.SIPDomain = "3402000000"
	}
	if strings.TrimSpace(cfg.SIPListenIP) == "" {
		cfg.SIPListenIP = "0.0.0.0"
	}
	if cfg.SIPListenPort <= 0 {
		cfg.SIPListenPort = 5060
	}
	switch strings.ToLower(strings.TrimSpace(cfg.SIPTransport)) {
	case "udp", "tcp", "both":
		cfg.SIPTransport = strings.ToLower(strings.TrimSpace(cfg.SIPTransport))
	default:
		cfg.SIPTransport = "udp"
	}
	if cfg.RegisterExpires <= 0 {
		cfg.RegisterExpires = 3600
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 180
	}

	if strings.TrimSpace(cfg.MediaIP) == "" {
		cfg.MediaIP = "127.0.0.1"
	}
	if cfg.ZLMHTTPPort <= 0 {
		cfg.ZLMHTTPPort = 80
	}
	if cfg.ZLMRTMPPort <= 0 {
		cfg.ZLMRTMPPort = 1935
	}
	if cfg.ZLMRTSPPort <= 0 {
		cfg.ZLMRTSPPort = 554
	}
	if strings.TrimSpace(cfg.ZLMAPIBaseURL) == "" {
		cfg.ZLMAPIBaseURL = "http://" + cfg.MediaIP + ":" + strconv.Itoa(cfg.ZLMHTTPPort) + "/index/api"
	}

	cfg.DataDir = absPathWithBase(cfg.DataDir, configDir)
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = configDir
	}
	cfg.DBPath = absPathWithBase(cfg.DBPath, configDir)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "platform.db")
	}
	return cfg
}

func absPathWithBase(target string, base string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if filepath.IsAbs(target) {
		return target
	}
	if base == "" {
		if abs, err := filepath.Abs(target); err == nil {
			return abs
		}
		return target
	}
	if abs, err := filepath.Abs(filepath.Join(base, target)); err == nil {
		return abs
	}
	return filepath.Join(base, target)
}
