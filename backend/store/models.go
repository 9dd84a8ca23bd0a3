package store

import (
	"strings"
	"time"
)

type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

type StreamStatus string

const (
	StreamStatusActive StreamStatus = "ACTIVE"
	StreamStatusClosed StreamStatus = "CLOSED"
)

// Result-compatible page payload.
type QueryPageModel[T any] struct {
	Page      int   `json:"page"`
	PageCount int   `json:"pageCount"`
	DataCount int64 `json:"dataCount"`
	PageSize  int   `json:"pageSize"`
	Data      []T   `json:"data"`
}

// Device is the denormalized registration record written by the signaling core.
type Device struct {
	ID              int64        `json:"id"`
	DeviceID        string       `json:"deviceId"`
	Name            string       `json:"name"`
	DeviceType      string       `json:"deviceType"`
	AuthPassword    string       `json:"-"`
	IPAddress       string       `json:"ipAddress"`
	Port            int          `json:"port"`
	Transport       string       `json:"transport"`
	Status          DeviceStatus `json:"status"`
	Expires         int          `json:"expires"`
	RegisterAt      *time.Time   `json:"registerAt,omitempty"`
	LastKeepaliveAt *time.Time   `json:"lastKeepaliveAt,omitempty"`
	Manufacturer    string       `json:"manufacturer"`
	Model           string       `json:"model"`
	Firmware        string       `json:"firmware"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type DeviceListRequest struct {
	Keyword string
	Status  string
	Page    int
	Limit   int
}

type DeviceUpsertRequest struct {
	DeviceID        string
	Name            string
	IPAddress       string
	Port            int
	Transport       string
	Expires         int
	RegisterAt      *time.Time
	LastKeepaliveAt *time.Time
	Status          DeviceStatus
}

// Channel is one catalog item reported by a device.
type Channel struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"deviceId"`
	ChannelID    string    `json:"channelId"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Owner        string    `json:"owner"`
	CivilCode    string    `json:"civilCode"`
	Address      string    `json:"address"`
	Parental     int       `json:"parental"`
	ParentID     string    `json:"parentId"`
	SafetyWay    int       `json:"safetyWay"`
	RegisterWay  int       `json:"registerWay"`
	Secrecy      int       `json:"secrecy"`
	Status       string    `json:"status"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	PTZType      int       `json:"ptzType"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ChannelUpsertRequest struct {
	DeviceID     string
	ChannelID    string
	Name         string
	Manufacturer string
	Model        string
	Owner        string
	CivilCode    string
	Address      string
	Parental     int
	ParentID     string
	SafetyWay    int
	RegisterWay  int
	Secrecy      int
	Status       string
	Longitude    *float64
	Latitude     *float64
	PTZType      int
}

// StreamSession is one negotiated media stream. Status moves ACTIVE -> CLOSED
// exactly once and the row is never purged.
type StreamSession struct {
	ID            int64        `json:"id"`
	SessionID     string       `json:"sessionId"`
	DeviceID      string       `json:"deviceId"`
	ChannelID     string       `json:"channelId"`
	StreamType    string       `json:"streamType"`
	App           string       `json:"app"`
	Stream        string       `json:"stream"`
	SSRC          string       `json:"ssrc"`
	MediaServerIP string       `json:"mediaServerIp"`
	RTPPort       int          `json:"rtpPort"`
	FlvURL        string       `json:"flvUrl"`
	HlsURL        string       `json:"hlsUrl"`
	RtmpURL       string       `json:"rtmpUrl"`
	RtspURL       string       `json:"rtspUrl"`
	WebrtcURL     string       `json:"webrtcUrl"`
	Status        StreamStatus `json:"status"`
	CallID        string       `json:"callId"`
	FromTag       string       `json:"fromTag"`
	ToTag         string       `json:"toTag"`
	StartAt       time.Time    `json:"startAt"`
	EndAt         *time.Time   `json:"endAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func NormalizeDeviceStatus(raw string) DeviceStatus {
	switch DeviceStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceStatusOnline:
		return DeviceStatusOnline
	case DeviceStatusOffline:
		return DeviceStatusOffline
	default:
		return DeviceStatusUnknown
	}
}

func NormalizeTransport(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "udp", "tcp":
		return value
	default:
		return "udp"
	}
}

func NormalizeStreamStatus(raw string) StreamStatus {
	if strings.EqualFold(strings.TrimSpace(raw), string(StreamStatusClosed)) {
		return StreamStatusClosed
	}
	return StreamStatusActive
}
