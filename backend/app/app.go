package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	_ "videosurveillance/platform/backend/api/handlers"
	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/logging"
	"videosurveillance/platform/backend/router"
	"videosurveillance/platform/backend/service/events"
	gbsvc "videosurveillance/platform/backend/service/gb28181"
	"videosurveillance/platform/backend/service/media"
	streamsvc "videosurveillance/platform/backend/service/stream"
	"videosurveillance/platform/backend/sip"
	"videosurveillance/platform/backend/store"
)

const staleSweepInterval = 60 * time.Second

type App struct {
	cfg        config.Config
	cfgManager *config.Manager
	store      *store.Store
	gateway    *sip.Gateway
	signaling  *gbsvc.Service
	orches     *media.Orchestrator
	streams    *streamsvc.Service
	events     *events.Hub
	server     *http.Server
	apiHandler http.Handler
	routes     []router.Route
	openapi    []byte
	logger     *logging.Manager

	sweepStop chan struct{}
	sweepDone chan struct{}
}

func New(cfgManager *config.Manager) (*App, error) {
	if cfgManager == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	cfg := cfgManager.Current()
	log.Printf("[config] using config file: %s", cfg.ConfigFile)
	log.Printf("[config] sip id: %s domain: %s listen: %s:%d/%s", cfg.SIPID, cfg.SIPDomain, cfg.SIPListenIP, cfg.SIPListenPort, cfg.SIPTransport)
	log.Printf("[config] media server api: %s", cfg.ZLMAPIBaseURL)

	storeDB, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	loggerMgr, err := logging.New(cfg)
	if err != nil {
		storeDB.Close()
		return nil, err
	}

	gateway := sip.NewGateway(sip.GatewayOptions{
		ListenIP:   cfg.SIPListenIP,
		ListenPort: cfg.SIPListenPort,
		Transport:  cfg.SIPTransport,
	})
	eventHub := events.NewHub()
	orchestrator := media.NewOrchestrator(storeDB, cfg)
	signalingSvc := gbsvc.New(storeDB, cfg, gateway, orchestrator, eventHub)
	gateway.SetHandler(signalingSvc)
	streamSvc := streamsvc.New(storeDB, orchestrator, signalingSvc)

	deps := &router.Dependencies{
		Config:    cfg,
		ConfigMgr: cfgManager,
		Store:     storeDB,
		Signaling: signalingSvc,
		Streams:   streamSvc,
		Media:     orchestrator,
		Events:    eventHub,
	}
	apiHandler, routes := router.Build(deps)
	openapi, err := buildOpenAPISpec(routes)
	if err != nil {
		_ = loggerMgr.Close()
		storeDB.Close()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		cfgManager: cfgManager,
		store:      storeDB,
		gateway:    gateway,
		signaling:  signalingSvc,
		orches:     orchestrator,
		streams:    streamSvc,
		events:     eventHub,
		apiHandler: apiHandler,
		routes:     routes,
		openapi:    openapi,
		logger:     loggerMgr,
	}
	cfgManager.AddListener(func(newCfg config.Config) {
		log.Printf("[config] hot reload applied from %s", newCfg.ConfigFile)
		signalingSvc.UpdateConfig(newCfg)
		orchestrator.UpdateConfig(newCfg)
		if err := loggerMgr.Update(newCfg); err != nil {
			log.Printf("[config][warn] update logger failed: %v", err)
		}
	})
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           a.mainMux(),
	}
	return a, nil
}

func (a *App) mainMux() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean(r.URL.Path)
		if clean == "." {
			clean = "/"
		}
		if strings.HasPrefix(clean, a.cfg.APIBase+"/") || clean == a.cfg.APIBase {
			a.apiHandler.ServeHTTP(w, r)
			return
		}
		if clean == "/openapi.json" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(a.openapi)
			return
		}
		http.NotFound(w, r)
	})
}

func (a *App) Run() error {
	a.cfgManager.StartWatching()
	if err := a.gateway.Start(context.Background()); err != nil {
		return fmt.Errorf("start sip gateway failed: %w", err)
	}
	a.startStaleSweep()
	log.Printf("platform listening on %s", a.cfg.ListenAddr)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cfgManager.StopWatching()
	a.stopStaleSweep()
	if err := a.gateway.Stop(ctx); err != nil {
		log.Printf("[sip][warn] gateway stop: %v", err)
	}
	shutdownErr := a.server.Shutdown(ctx)
	a.events.Close()
	closeErr := a.store.Close()
	if a.logger != nil {
		_ = a.logger.Close()
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	return closeErr
}

// startStaleSweep periodically flips devices whose keepalives stopped arriving
// to offline in the database so list views agree with the in-memory registry.
func (a *App) startStaleSweep() {
	a.sweepStop = make(chan struct{})
	a.sweepDone = make(chan struct{})
	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(staleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.sweepStop:
				return
			case <-ticker.C:
				a.sweepStaleDevices()
			}
		}
	}()
}

func (a *App) stopStaleSweep() {
	if a.sweepStop == nil {
		return
	}
	close(a.sweepStop)
	<-a.sweepDone
	a.sweepStop = nil
	a.sweepDone = nil
}

func (a *App) sweepStaleDevices() {
	cfg := a.cfgManager.Current()
	timeout := time.Duration(cfg.KeepaliveTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	changed, err := a.store.MarkStaleDevicesOffline(ctx, time.Now().Add(-timeout))
	if err != nil {
		log.Printf("[app][warn] stale device sweep failed: %v", err)
		return
	}
	for _, deviceID := range changed {
		a.signaling.Registry().Remove(deviceID)
		a.events.Publish("device.offline", map[string]any{"deviceId": deviceID, "reason": "keepalive timeout"})
		log.Printf("[app] device marked offline after keepalive timeout device=%s", deviceID)
	}
}

func (a *App) RouteList() []router.Route {
	items := make([]router.Route, len(a.routes))
	copy(items, a.routes)
	return items
}

func buildOpenAPISpec(routes []router.Route) ([]byte, error) {
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		method := strings.ToLower(rt.Method)
		if method != "get" && method != "post" {
			continue
		}
		if _, ok := paths[rt.Pattern]; !ok {
			paths[rt.Pattern] = map[string]any{}
		}
		operation := map[string]any{
			"summary":     rt.Summary,
			"description": rt.Description,
			"operationId": buildOperationID(method, rt.Pattern),
			"tags":        []string{deriveRouteTag(rt.Pattern)},
			"responses": map[string]any{
				"200": map[string]any{
					"description": "Success",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{
								"$ref": "#/components/schemas/ResultEnvelope",
							},
						},
					},
				},
			},
		}
		if method == "post" {
			operation["requestBody"] = map[string]any{
				"required": false,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object"},
					},
				},
			}
		}
		paths[rt.Pattern][method] = operation
	}
	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "Video Surveillance Platform API",
			"version":     "0.1.0",
			"description": "REST API for GB28181 device registration, catalog, live streaming and PTZ control.",
		},
		"servers": []map[string]any{{"url": "/"}},
		"paths":   paths,
		"components": map[string]any{
			"schemas": map[string]any{
				"ResultEnvelope": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"code":    map[string]any{"type": "integer", "example": 0},
						"message": map[string]any{"type": "string", "example": "Success"},
						"data":    map[string]any{"nullable": true},
					},
				},
			},
		},
	}
	return json.MarshalIndent(spec, "", "  ")
}

func buildOperationID(method string, pattern string) string {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, strings.ToLower(method))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		segment = strings.Trim(segment, "{}")
		segment = strings.ReplaceAll(segment, "-", "_")
		parts = append(parts, segment)
	}
	return strings.Join(parts, "_")
}

func deriveRouteTag(pattern string) string {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(segments) >= 2 {
		return strings.ReplaceAll(segments[1], "-", "_")
	}
	if len(segments) == 1 && segments[0] != "" {
		return strings.ReplaceAll(segments[0], "-", "_")
	}
	return "general"
}
