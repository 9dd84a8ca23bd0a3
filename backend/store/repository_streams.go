package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type StreamSessionInsertRequest struct {
	SessionID     string
	DeviceID      string
	ChannelID     string
	StreamType    string
	App           string
	Stream        string
	SSRC          string
	MediaServerIP string
	RTPPort       int
	FlvURL        string
	HlsURL        string
	RtmpURL       string
	RtspURL       string
	WebrtcURL     string
	CallID        string
	FromTag       string
	ToTag         string
}

func (s *Store) InsertStreamSession(ctx context.Context, req StreamSessionInsertRequest) (*StreamSession, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	channelID := strings.TrimSpace(req.ChannelID)
	if deviceID == "" || channelID == "" {
		return nil, errors.New("device id and channel id are required")
	}
	streamType := strings.ToUpper(strings.TrimSpace(req.StreamType))
	if streamType == "" {
		streamType = "LIVE"
	}
	app := strings.TrimSpace(req.App)
	if app == "" {
		app = "rtp"
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, `INSERT INTO stream_sessions (
		session_id, device_id, channel_id, stream_type, app, stream, ssrc, media_server_ip, rtp_port,
		flv_url, hls_url, rtmp_url, rtsp_url, webrtc_url, status, call_id, from_tag, to_tag,
		start_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		deviceID,
		channelID,
		streamType,
		app,
		strings.TrimSpace(req.Stream),
		strings.TrimSpace(req.SSRC),
		strings.TrimSpace(req.MediaServerIP),
		req.RTPPort,
		strings.TrimSpace(req.FlvURL),
		strings.TrimSpace(req.HlsURL),
		strings.TrimSpace(req.RtmpURL),
		strings.TrimSpace(req.RtspURL),
		strings.TrimSpace(req.WebrtcURL),
		StreamStatusActive,
		strings.TrimSpace(req.CallID),
		strings.TrimSpace(req.FromTag),
		strings.TrimSpace(req.ToTag),
		now,
		now,
		now,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.getStreamSessionByRowID(ctx, id)
}

func (s *Store) GetStreamSessionBySessionID(ctx context.Context, sessionID string) (*StreamSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	row := s.db.QueryRowContext(ctx, streamSessionSelect+` WHERE session_id=?`, sessionID)
	return scanStreamSession(row)
}

// GetActiveStreamSessionByCallID resolves the session a device-side BYE
// refers to. Only ACTIVE sessions qualify.
func (s *Store) GetActiveStreamSessionByCallID(ctx context.Context, callID string) (*StreamSession, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, errors.New("call id is required")
	}
	row := s.db.QueryRowContext(ctx, streamSessionSelect+` WHERE call_id=? AND status=? ORDER BY id DESC LIMIT 1`,
		callID, StreamStatusActive)
	return scanStreamSession(row)
}

func (s *Store) GetActiveStreamSessionByDeviceChannel(ctx context.Context, deviceID string, channelID string) (*StreamSession, error) {
	row := s.db.QueryRowContext(ctx, streamSessionSelect+` WHERE device_id=? AND channel_id=? AND status=? ORDER BY id DESC LIMIT 1`,
		strings.TrimSpace(deviceID), strings.TrimSpace(channelID), StreamStatusActive)
	return scanStreamSession(row)
}

// AttachStreamSessionDialog fills in the SIP dialog identifiers once the
// device answers the INVITE.
func (s *Store) AttachStreamSessionDialog(ctx context.Context, sessionID string, callID string, fromTag string, toTag string) error {
	current, err := s.GetStreamSessionBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE stream_sessions SET
		call_id=COALESCE(NULLIF(?, ''), call_id),
		from_tag=COALESCE(NULLIF(?, ''), from_tag),
		to_tag=COALESCE(NULLIF(?, ''), to_tag),
		updated_at=?
	WHERE id=?`,
		strings.TrimSpace(callID),
		strings.TrimSpace(fromTag),
		strings.TrimSpace(toTag),
		now,
		current.ID,
	)
	return err
}

// CloseStreamSession moves an ACTIVE session to CLOSED. The transition is
// one-way; closing a session that is already CLOSED reports sql.ErrNoRows.
func (s *Store) CloseStreamSession(ctx context.Context, sessionID string) (*StreamSession, error) {
	current, err := s.GetStreamSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != StreamStatusActive {
		return nil, sql.ErrNoRows
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, `UPDATE stream_sessions SET
		status=?, end_at=COALESCE(end_at, ?), updated_at=?
	WHERE id=? AND status=?`,
		StreamStatusClosed, now, now, current.ID, StreamStatusActive)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return s.getStreamSessionByRowID(ctx, current.ID)
}

func (s *Store) ListStreamSessions(ctx context.Context, status string, limit int) ([]StreamSession, error) {
	limit = clampLimit(limit, 100, 1000)
	filter := "WHERE 1=1"
	args := make([]any, 0, 2)
	if strings.TrimSpace(status) != "" {
		filter += " AND status = ?"
		args = append(args, string(NormalizeStreamStatus(status)))
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, streamSessionSelect+` `+filter+` ORDER BY updated_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]StreamSession, 0, limit)
	for rows.Next() {
		item, scanErr := scanStreamSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) getStreamSessionByRowID(ctx context.Context, id int64) (*StreamSession, error) {
	row := s.db.QueryRowContext(ctx, streamSessionSelect+` WHERE id=?`, id)
	return scanStreamSession(row)
}

const streamSessionSelect = `SELECT
	id, session_id, device_id, channel_id, stream_type, app, stream, ssrc, media_server_ip, rtp_port,
	flv_url, hls_url, rtmp_url, rtsp_url, webrtc_url, status, call_id, from_tag, to_tag,
	start_at, end_at, created_at, updated_at
FROM stream_sessions`

func scanStreamSession(scanner interface{ Scan(dest ...any) error }) (*StreamSession, error) {
	item := StreamSession{}
	var status string
	var startAt string
	var endAt sql.NullString
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(
		&item.ID,
		&item.SessionID,
		&item.DeviceID,
		&item.ChannelID,
		&item.StreamType,
		&item.App,
		&item.Stream,
		&item.SSRC,
		&item.MediaServerIP,
		&item.RTPPort,
		&item.FlvURL,
		&item.HlsURL,
		&item.RtmpURL,
		&item.RtspURL,
		&item.WebrtcURL,
		&status,
		&item.CallID,
		&item.FromTag,
		&item.ToTag,
		&startAt,
		&endAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = NormalizeStreamStatus(status)
	item.StartAt = parseStoredTime(startAt)
	if endAt.Valid {
		value := parseStoredTime(endAt.String)
		item.EndAt = &value
	}
	item.CreatedAt = parseStoredTime(createdAt)
	item.UpdatedAt = parseStoredTime(updatedAt)
	return &item, nil
}
