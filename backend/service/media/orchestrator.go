package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/errs"
	"videosurveillance/platform/backend/store"
)

const (
	appPushReceive = "rtp"
	appPullProxy   = "live"
)

// Orchestrator owns the StreamSession lifecycle. It is the only component
// that creates or closes sessions; everything else reads them.
type Orchestrator struct {
	store *store.Store

	mu     sync.RWMutex
	cfg    config.Config
	client *Client

	proxyMu   sync.Mutex
	proxyKeys map[string]string // sessionID -> media server proxy key
}

func NewOrchestrator(storeDB *store.Store, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:     storeDB,
		cfg:       cfg,
		client:    NewClient(cfg.ZLMAPIBaseURL, cfg.ZLMSecret),
		proxyKeys: make(map[string]string),
	}
}

func (o *Orchestrator) UpdateConfig(cfg config.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cfg.ZLMAPIBaseURL != cfg.ZLMAPIBaseURL || o.cfg.ZLMSecret != cfg.ZLMSecret {
		o.client = NewClient(cfg.ZLMAPIBaseURL, cfg.ZLMSecret)
	}
	o.cfg = cfg
}

func (o *Orchestrator) currentClient() (*Client, config.Config) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.client, o.cfg
}

// StreamID derives the media server stream name for a device channel.
func StreamID(deviceID string, channelID string) string {
	return strings.TrimSpace(deviceID) + "_" + strings.TrimSpace(channelID)
}

// OpenLiveSession opens a push-receive RTP endpoint and records an ACTIVE
// session with derived playback URLs. URL construction is template-only; it
// never checks that the stream actually carries media yet.
func (o *Orchestrator) OpenLiveSession(ctx context.Context, deviceID string, channelID string, ssrc string, tcpMode int) (*store.StreamSession, error) {
	deviceID = strings.TrimSpace(deviceID)
	channelID = strings.TrimSpace(channelID)
	if deviceID == "" || channelID == "" {
		return nil, errors.New("device id and channel id are required")
	}
	client, cfg := o.currentClient()
	streamID := StreamID(deviceID, channelID)

	port, err := client.OpenRtpServer(ctx, streamID, 0, tcpMode)
	if err != nil {
		return nil, err
	}

	urls := buildPlaybackURLs(cfg, appPushReceive, streamID)
	session, err := o.store.InsertStreamSession(ctx, store.StreamSessionInsertRequest{
		SessionID:     uuid.NewString(),
		DeviceID:      deviceID,
		ChannelID:     channelID,
		StreamType:    "LIVE",
		App:           appPushReceive,
		Stream:        streamID,
		SSRC:          strings.TrimSpace(ssrc),
		MediaServerIP: cfg.MediaIP,
		RTPPort:       port,
		FlvURL:        urls.Flv,
		HlsURL:        urls.Hls,
		RtmpURL:       urls.Rtmp,
		RtspURL:       urls.Rtsp,
		WebrtcURL:     urls.Webrtc,
	})
	if err != nil {
		// Roll back the endpoint so the media server does not leak it.
		if closeErr := client.CloseRtpServer(ctx, streamID); closeErr != nil {
			log.Printf("[media][warn] rtp server rollback failed stream=%s: %v", streamID, closeErr)
		}
		return nil, err
	}
	log.Printf("[media] live session opened session=%s stream=%s port=%d", session.SessionID, streamID, port)
	return session, nil
}

// OpenProxySession pulls an external source through the media server instead
// of receiving RTP. Same session shape minus ssrc and port.
func (o *Orchestrator) OpenProxySession(ctx context.Context, deviceID string, channelID string, sourceURL string) (*store.StreamSession, error) {
	deviceID = strings.TrimSpace(deviceID)
	channelID = strings.TrimSpace(channelID)
	sourceURL = strings.TrimSpace(sourceURL)
	if deviceID == "" || channelID == "" {
		return nil, errors.New("device id and channel id are required")
	}
	if sourceURL == "" {
		return nil, errors.New("source url is required")
	}
	client, cfg := o.currentClient()
	streamID := StreamID(deviceID, channelID)

	key, err := client.AddStreamProxy(ctx, appPullProxy, streamID, sourceURL)
	if err != nil {
		return nil, err
	}

	urls := buildPlaybackURLs(cfg, appPullProxy, streamID)
	session, err := o.store.InsertStreamSession(ctx, store.StreamSessionInsertRequest{
		SessionID:     uuid.NewString(),
		DeviceID:      deviceID,
		ChannelID:     channelID,
		StreamType:    "PROXY",
		App:           appPullProxy,
		Stream:        streamID,
		MediaServerIP: cfg.MediaIP,
		FlvURL:        urls.Flv,
		HlsURL:        urls.Hls,
		RtmpURL:       urls.Rtmp,
		RtspURL:       urls.Rtsp,
		WebrtcURL:     urls.Webrtc,
	})
	if err != nil {
		if delErr := client.DelStreamProxy(ctx, key); delErr != nil {
			log.Printf("[media][warn] proxy rollback failed stream=%s: %v", streamID, delErr)
		}
		return nil, err
	}
	o.proxyMu.Lock()
	o.proxyKeys[session.SessionID] = key
	o.proxyMu.Unlock()
	log.Printf("[media] proxy session opened session=%s stream=%s", session.SessionID, streamID)
	return session, nil
}

// Close tears a session down. Unknown or already-closed ids report found=false
// without error. Remote failures are logged and absorbed: the local record is
// always finalized to CLOSED, even if the media server disagrees afterwards.
func (o *Orchestrator) Close(ctx context.Context, sessionID string) (bool, error) {
	session, err := o.store.GetStreamSessionBySessionID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if session.Status != store.StreamStatusActive {
		return false, nil
	}

	client, _ := o.currentClient()
	if err := client.CloseStream(ctx, session.App, session.Stream); err != nil {
		log.Printf("[media][warn] close stream failed session=%s: %v", session.SessionID, err)
	}
	switch session.App {
	case appPushReceive:
		if err := client.CloseRtpServer(ctx, session.Stream); err != nil {
			log.Printf("[media][warn] close rtp server failed session=%s: %v", session.SessionID, err)
		}
	case appPullProxy:
		o.proxyMu.Lock()
		key := o.proxyKeys[session.SessionID]
		delete(o.proxyKeys, session.SessionID)
		o.proxyMu.Unlock()
		if key != "" {
			if err := client.DelStreamProxy(ctx, key); err != nil {
				log.Printf("[media][warn] del stream proxy failed session=%s: %v", session.SessionID, err)
			}
		}
	}

	if _, err := o.store.CloseStreamSession(ctx, session.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	log.Printf("[media] session closed session=%s stream=%s", session.SessionID, session.Stream)
	return true, nil
}

// CloseByCallID resolves the ACTIVE session a SIP dialog belongs to and
// closes it. found=false when no active session matches.
func (o *Orchestrator) CloseByCallID(ctx context.Context, callID string) (bool, error) {
	session, err := o.store.GetActiveStreamSessionByCallID(ctx, callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return o.Close(ctx, session.SessionID)
}

func (o *Orchestrator) SessionInfo(ctx context.Context, sessionID string) (*store.StreamSession, error) {
	session, err := o.store.GetStreamSessionBySessionID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (o *Orchestrator) ActiveSessions(ctx context.Context) ([]store.StreamSession, error) {
	return o.store.ListStreamSessions(ctx, string(store.StreamStatusActive), 500)
}

func (o *Orchestrator) MediaList(ctx context.Context) ([]MediaItem, error) {
	client, _ := o.currentClient()
	return client.GetMediaList(ctx)
}

func (o *Orchestrator) ServerConfig(ctx context.Context) ([]map[string]any, error) {
	client, _ := o.currentClient()
	return client.GetServerConfig(ctx)
}

// PushTo forwards an already-received stream to another RTP destination.
func (o *Orchestrator) PushTo(ctx context.Context, sessionID string, dstURL string, dstPort int, udp bool) error {
	session, err := o.SessionInfo(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != store.StreamStatusActive {
		return errs.ErrSessionNotFound
	}
	client, _ := o.currentClient()
	return client.StartSendRtp(ctx, session.App, session.Stream, session.SSRC, dstURL, dstPort, udp)
}

func (o *Orchestrator) StopPush(ctx context.Context, sessionID string) error {
	session, err := o.SessionInfo(ctx, sessionID)
	if err != nil {
		return err
	}
	client, _ := o.currentClient()
	return client.StopSendRtp(ctx, session.App, session.Stream)
}

type playbackURLs struct {
	Flv    string
	Hls    string
	Rtmp   string
	Rtsp   string
	Webrtc string
}

func buildPlaybackURLs(cfg config.Config, app string, streamID string) playbackURLs {
	host := strings.TrimSpace(cfg.MediaIP)
	flv := fmt.Sprintf("http://%s:%d/%s/%s.live.flv", host, cfg.ZLMHTTPPort, app, streamID)
	return playbackURLs{
		Flv:    flv,
		Hls:    fmt.Sprintf("http://%s:%d/%s/%s/hls.m3u8", host, cfg.ZLMHTTPPort, app, streamID),
		Rtmp:   fmt.Sprintf("rtmp://%s:%d/%s/%s", host, cfg.ZLMRTMPPort, app, streamID),
		Rtsp:   fmt.Sprintf("rtsp://%s:%d/%s/%s", host, cfg.ZLMRTSPPort, app, streamID),
		Webrtc: flv,
	}
}
