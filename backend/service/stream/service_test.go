package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/errs"
	"videosurveillance/platform/backend/service/media"
	"videosurveillance/platform/backend/store"
)

type fakeSignaler struct {
	mu        sync.Mutex
	online    bool
	inviteErr error
	invites   []string
	byes      []string
}

func (f *fakeSignaler) IsDeviceOnline(deviceID string) bool {
	return f.online
}

func (f *fakeSignaler) SendInvite(ctx context.Context, deviceID string, channelID string, sdp string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inviteErr != nil {
		return "", "", f.inviteErr
	}
	f.invites = append(f.invites, sdp)
	return "call-x", "tag-x", nil
}

func (f *fakeSignaler) SendBye(ctx context.Context, session *store.StreamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byes = append(f.byes, session.CallID)
	return nil
}

func (f *fakeSignaler) BuildLiveSDP(mediaPort int, ssrc string) string {
	return fmt.Sprintf("v=0\r\nm=video %d RTP/AVP 96\r\ny=%s\r\n", mediaPort, ssrc)
}

func newTestStreamService(t *testing.T) (*Service, *fakeSignaler, *store.Store) {
	t.Helper()
	storeDB, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeDB.Close() })

	mediaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/openRtpServer":
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "port": 30000})
		case "/addStreamProxy":
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "key": "proxy-key"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0})
		}
	}))
	t.Cleanup(mediaServer.Close)

	orchestrator := media.NewOrchestrator(storeDB, config.Config{
		MediaIP:       "127.0.0.1",
		ZLMAPIBaseURL: mediaServer.URL,
		ZLMSecret:     "s",
		ZLMHTTPPort:   8080,
		ZLMRTMPPort:   1935,
		ZLMRTSPPort:   554,
	})
	signaler := &fakeSignaler{online: true}
	return New(storeDB, orchestrator, signaler), signaler, storeDB
}

func TestStartLiveNegotiatesDialog(t *testing.T) {
	svc, signaler, _ := newTestStreamService(t)
	ctx := context.Background()

	session, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.NoError(t, err)
	require.Equal(t, store.StreamStatusActive, session.Status)
	require.Equal(t, "call-x", session.CallID)
	require.Equal(t, "tag-x", session.FromTag)
	require.Equal(t, 30000, session.RTPPort)
	require.NotEmpty(t, session.SSRC)

	// The offer carried the allocated port and ssrc.
	require.Len(t, signaler.invites, 1)
	require.Contains(t, signaler.invites[0], "m=video 30000")
	require.Contains(t, signaler.invites[0], "y="+session.SSRC)
}

func TestStartLiveRequiresOnlineDevice(t *testing.T) {
	svc, signaler, _ := newTestStreamService(t)
	signaler.online = false

	_, err := svc.StartLive(context.Background(), "dev-1", "chan-1")
	require.ErrorIs(t, err, errs.ErrDeviceOffline)
}

func TestStartLiveReusesActiveSession(t *testing.T) {
	svc, signaler, _ := newTestStreamService(t)
	ctx := context.Background()

	first, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.NoError(t, err)
	second, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.NoError(t, err)

	require.Equal(t, first.SessionID, second.SessionID)
	require.Len(t, signaler.invites, 1)
}

func TestStartLiveRollsBackWhenInviteFails(t *testing.T) {
	svc, signaler, storeDB := newTestStreamService(t)
	signaler.inviteErr = errors.New("device unreachable")
	ctx := context.Background()

	_, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.Error(t, err)

	// The provisional session must not survive as ACTIVE.
	_, err = storeDB.GetActiveStreamSessionByDeviceChannel(ctx, "dev-1", "chan-1")
	require.Error(t, err)
}

func TestStopSendsByeAndCloses(t *testing.T) {
	svc, signaler, _ := newTestStreamService(t)
	ctx := context.Background()

	session, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.NoError(t, err)

	found, err := svc.Stop(ctx, session.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"call-x"}, signaler.byes)

	closed, err := svc.Info(ctx, session.SessionID)
	require.NoError(t, err)
	require.Equal(t, store.StreamStatusClosed, closed.Status)

	// Stopping again finds nothing and sends no second BYE.
	found, err = svc.Stop(ctx, session.SessionID)
	require.NoError(t, err)
	require.False(t, found)
	require.Len(t, signaler.byes, 1)
}

func TestStopUnknownSession(t *testing.T) {
	svc, _, _ := newTestStreamService(t)
	found, err := svc.Stop(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStartProxyHasNoDialog(t *testing.T) {
	svc, signaler, _ := newTestStreamService(t)
	ctx := context.Background()

	session, err := svc.StartProxy(ctx, "dev-2", "chan-2", "rtsp://example.com/live/1")
	require.NoError(t, err)
	require.Equal(t, "PROXY", session.StreamType)
	require.Empty(t, signaler.invites)

	found, err := svc.Stop(ctx, session.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, signaler.byes)
}

func TestActiveLists(t *testing.T) {
	svc, _, _ := newTestStreamService(t)
	ctx := context.Background()

	session, err := svc.StartLive(ctx, "dev-1", "chan-1")
	require.NoError(t, err)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, session.SessionID, active[0].SessionID)

	_, err = svc.Stop(ctx, session.SessionID)
	require.NoError(t, err)
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}
