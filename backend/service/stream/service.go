package stream

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"videosurveillance/platform/backend/errs"
	"videosurveillance/platform/backend/service/media"
	"videosurveillance/platform/backend/sip"
	"videosurveillance/platform/backend/store"
)

// Signaler is the SIP side of stream negotiation: it carries the SDP offer to
// the device and tears the dialog down afterwards.
type Signaler interface {
	IsDeviceOnline(deviceID string) bool
	SendInvite(ctx context.Context, deviceID string, channelID string, sdp string) (callID string, fromTag string, err error)
	SendBye(ctx context.Context, session *store.StreamSession) error
	BuildLiveSDP(mediaPort int, ssrc string) string
}

// Service drives platform-initiated stream sessions: allocate the media
// endpoint first, then invite the device to push into it.
type Service struct {
	store    *store.Store
	media    *media.Orchestrator
	signaler Signaler
}

func New(storeDB *store.Store, orchestrator *media.Orchestrator, signaler Signaler) *Service {
	return &Service{
		store:    storeDB,
		media:    orchestrator,
		signaler: signaler,
	}
}

// StartLive negotiates a live view for a channel. When an ACTIVE session for
// the same device channel already exists it is returned as-is instead of
// opening a second one.
func (s *Service) StartLive(ctx context.Context, deviceID string, channelID string) (*store.StreamSession, error) {
	deviceID = strings.TrimSpace(deviceID)
	channelID = strings.TrimSpace(channelID)
	if deviceID == "" || channelID == "" {
		return nil, errors.New("device id and channel id are required")
	}
	if !s.signaler.IsDeviceOnline(deviceID) {
		return nil, errs.ErrDeviceOffline
	}

	if existing, err := s.store.GetActiveStreamSessionByDeviceChannel(ctx, deviceID, channelID); err == nil {
		log.Printf("[stream] reusing active session session=%s device=%s channel=%s", existing.SessionID, deviceID, channelID)
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	ssrc, err := s.allocateSSRC(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.media.OpenLiveSession(ctx, deviceID, channelID, ssrc, 0)
	if err != nil {
		return nil, err
	}

	sdp := s.signaler.BuildLiveSDP(session.RTPPort, ssrc)
	callID, fromTag, err := s.signaler.SendInvite(ctx, deviceID, channelID, sdp)
	if err != nil {
		if _, closeErr := s.media.Close(ctx, session.SessionID); closeErr != nil {
			log.Printf("[stream][warn] rollback failed session=%s: %v", session.SessionID, closeErr)
		}
		return nil, err
	}
	if err := s.store.AttachStreamSessionDialog(ctx, session.SessionID, callID, fromTag, ""); err != nil {
		log.Printf("[stream][warn] dialog attach failed session=%s: %v", session.SessionID, err)
	}

	refreshed, err := s.store.GetStreamSessionBySessionID(ctx, session.SessionID)
	if err != nil {
		return session, nil
	}
	log.Printf("[stream] live started session=%s device=%s channel=%s callid=%s", session.SessionID, deviceID, channelID, callID)
	return refreshed, nil
}

// StartProxy pulls an external source through the media server. No SIP dialog
// is involved.
func (s *Service) StartProxy(ctx context.Context, deviceID string, channelID string, sourceURL string) (*store.StreamSession, error) {
	return s.media.OpenProxySession(ctx, deviceID, channelID, sourceURL)
}

// Stop closes a session. For live sessions with a negotiated dialog a BYE is
// sent first; failure to deliver it never blocks the local teardown.
func (s *Service) Stop(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.store.GetStreamSessionBySessionID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if session.Status == store.StreamStatusActive && strings.TrimSpace(session.CallID) != "" {
		if err := s.signaler.SendBye(ctx, session); err != nil {
			log.Printf("[stream][warn] bye failed session=%s: %v", session.SessionID, err)
		}
	}
	return s.media.Close(ctx, session.SessionID)
}

func (s *Service) Info(ctx context.Context, sessionID string) (*store.StreamSession, error) {
	return s.media.SessionInfo(ctx, sessionID)
}

func (s *Service) Active(ctx context.Context) ([]store.StreamSession, error) {
	return s.media.ActiveSessions(ctx)
}

func (s *Service) List(ctx context.Context, status string, limit int) ([]store.StreamSession, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.store.ListStreamSessions(ctx, status, limit)
}

// allocateSSRC picks a numeric SSRC that no ACTIVE session is already using.
func (s *Service) allocateSSRC(ctx context.Context) (string, error) {
	active, err := s.store.ListStreamSessions(ctx, string(store.StreamStatusActive), 500)
	if err != nil {
		return "", err
	}
	used := make(map[string]struct{}, len(active))
	for _, session := range active {
		if session.SSRC != "" {
			used[session.SSRC] = struct{}{}
		}
	}
	for attempt := 0; attempt < 10; attempt++ {
		candidate := sip.GenerateNumericToken(10)
		if _, taken := used[candidate]; !taken {
			return candidate, nil
		}
	}
	return "", errors.New("could not allocate a unique ssrc")
}
