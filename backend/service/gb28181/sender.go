package gb28181

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"videosurveillance/platform/backend/errs"
	"videosurveillance/platform/backend/service/ptz"
	"videosurveillance/platform/backend/sip"
	"videosurveillance/platform/backend/store"
)

// Every sender reports only whether the request was dispatched. Device
// answers, when any, arrive later as independent inbound traffic.

func (s *Service) QueryCatalog(ctx context.Context, deviceID string) error {
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	cfg := s.currentConfig()
	body := buildCatalogQuery(s.nextSN(), device.DeviceID)
	request := sip.BuildRequest("MESSAGE", fmt.Sprintf("sip:%s@%s", device.DeviceID, cfg.SIPDomain), map[string]string{
		"Via":          s.buildVia(device.Transport),
		"From":         fmt.Sprintf("<sip:%s@%s>;tag=%s", cfg.SIPID, cfg.SIPDomain, sip.GenerateToken(8)),
		"To":           fmt.Sprintf("<sip:%s@%s>", device.DeviceID, cfg.SIPDomain),
		"Call-ID":      sip.GenerateToken(20) + "@gb28181",
		"CSeq":         "1 MESSAGE",
		"Max-Forwards": "70",
		"Content-Type": "Application/MANSCDP+xml",
		"User-Agent":   userAgent,
	}, body)
	return s.sendToDevice(device, request)
}

func (s *Service) QueryDeviceInfo(ctx context.Context, deviceID string) error {
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	cfg := s.currentConfig()
	body := buildDeviceInfoQuery(s.nextSN(), device.DeviceID)
	request := sip.BuildRequest("MESSAGE", fmt.Sprintf("sip:%s@%s", device.DeviceID, cfg.SIPDomain), map[string]string{
		"Via":          s.buildVia(device.Transport),
		"From":         fmt.Sprintf("<sip:%s@%s>;tag=%s", cfg.SIPID, cfg.SIPDomain, sip.GenerateToken(8)),
		"To":           fmt.Sprintf("<sip:%s@%s>", device.DeviceID, cfg.SIPDomain),
		"Call-ID":      sip.GenerateToken(20) + "@gb28181",
		"CSeq":         "1 MESSAGE",
		"Max-Forwards": "70",
		"Content-Type": "Application/MANSCDP+xml",
		"User-Agent":   userAgent,
	}, body)
	return s.sendToDevice(device, request)
}

// ControlPTZ encodes the command and wraps it in a DeviceControl envelope
// addressed to the channel.
func (s *Service) ControlPTZ(ctx context.Context, deviceID string, channelID string, command string, speed int) error {
	cmd, err := ptz.ParseCommand(command)
	if err != nil {
		return err
	}
	frame, err := ptz.Encode(cmd, speed)
	if err != nil {
		return err
	}
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !s.registry.IsOnline(device.DeviceID) {
		return errs.ErrDeviceOffline
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errors.New("channel id is required")
	}
	cfg := s.currentConfig()
	body := buildDeviceControl(s.nextSN(), channelID, frame)
	request := sip.BuildRequest("MESSAGE", fmt.Sprintf("sip:%s@%s", channelID, cfg.SIPDomain), map[string]string{
		"Via":          s.buildVia(device.Transport),
		"From":         fmt.Sprintf("<sip:%s@%s>;tag=%s", cfg.SIPID, cfg.SIPDomain, sip.GenerateToken(8)),
		"To":           fmt.Sprintf("<sip:%s@%s>", channelID, cfg.SIPDomain),
		"Call-ID":      sip.GenerateToken(20) + "@gb28181",
		"CSeq":         "1 MESSAGE",
		"Max-Forwards": "70",
		"Content-Type": "Application/MANSCDP+xml",
		"User-Agent":   userAgent,
	}, body)
	return s.sendToDevice(device, request)
}

// SendInvite dispatches a platform-initiated INVITE carrying an SDP offer to
// a channel at the device's registered address. The returned call-id and
// from-tag identify the dialog for later correlation.
func (s *Service) SendInvite(ctx context.Context, deviceID string, channelID string, sdp string) (string, string, error) {
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return "", "", err
	}
	if !s.registry.IsOnline(device.DeviceID) {
		return "", "", errs.ErrDeviceOffline
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", "", errors.New("channel id is required")
	}
	cfg := s.currentConfig()
	callID := sip.GenerateToken(20) + "@gb28181"
	fromTag := sip.GenerateToken(8)
	branch := "z9hG4bK" + sip.GenerateToken(10)
	_, _, ssrc := sip.ParseSDPInfo(sdp)
	request := sip.BuildRequest("INVITE", fmt.Sprintf("sip:%s@%s", channelID, cfg.SIPDomain), map[string]string{
		"Via":          s.buildVia(device.Transport) + ";branch=" + branch,
		"From":         fmt.Sprintf("<sip:%s@%s>;tag=%s", cfg.SIPID, cfg.SIPDomain, fromTag),
		"To":           fmt.Sprintf("<sip:%s@%s>", channelID, cfg.SIPDomain),
		"Call-ID":      callID,
		"CSeq":         "1 INVITE",
		"Contact":      fmt.Sprintf("<sip:%s@%s:%d>", cfg.SIPID, cfg.SIPListenIP, cfg.SIPListenPort),
		"Max-Forwards": "70",
		"Subject":      fmt.Sprintf("%s:%s,%s:0", channelID, ssrc, cfg.SIPID),
		"Content-Type": "Application/SDP",
		"User-Agent":   userAgent,
	}, sdp)
	if err := s.sendToDevice(device, request); err != nil {
		return "", "", err
	}
	return callID, fromTag, nil
}

// SendBye terminates a dialog previously negotiated for a stream session.
func (s *Service) SendBye(ctx context.Context, session *store.StreamSession) error {
	if session == nil || strings.TrimSpace(session.CallID) == "" {
		return errors.New("session has no dialog to terminate")
	}
	device, err := s.lookupDevice(ctx, session.DeviceID)
	if err != nil {
		return err
	}
	cfg := s.currentConfig()
	from := fmt.Sprintf("<sip:%s@%s>", cfg.SIPID, cfg.SIPDomain)
	if tag := strings.TrimSpace(session.FromTag); tag != "" {
		from += ";tag=" + tag
	}
	to := fmt.Sprintf("<sip:%s@%s>", session.ChannelID, cfg.SIPDomain)
	if tag := strings.TrimSpace(session.ToTag); tag != "" {
		to += ";tag=" + tag
	}
	request := sip.BuildRequest("BYE", fmt.Sprintf("sip:%s@%s", session.ChannelID, cfg.SIPDomain), map[string]string{
		"Via":          s.buildVia(device.Transport),
		"From":         from,
		"To":           to,
		"Call-ID":      session.CallID,
		"CSeq":         "2 BYE",
		"Max-Forwards": "70",
		"User-Agent":   userAgent,
	}, "")
	return s.sendToDevice(device, request)
}

// BuildLiveSDP produces the SDP offer for a platform-initiated live view.
func (s *Service) BuildLiveSDP(mediaPort int, ssrc string) string {
	cfg := s.currentConfig()
	return buildSDP(cfg.SIPID, cfg.MediaIP, mediaPort, ssrc)
}

func (s *Service) lookupDevice(ctx context.Context, deviceID string) (*store.Device, error) {
	device, err := s.store.GetDeviceByDeviceID(ctx, strings.TrimSpace(deviceID))
	if err != nil {
		return nil, errs.ErrDeviceNotFound
	}
	return device, nil
}

func (s *Service) sendToDevice(device *store.Device, payload string) error {
	if device == nil {
		return errs.ErrDeviceNotFound
	}
	remote := net.JoinHostPort(strings.TrimSpace(device.IPAddress), strconv.Itoa(device.Port))
	if err := s.transport.SendTo(device.Transport, device.DeviceID, remote, payload); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransportUnavailable, err)
	}
	return nil
}

func (s *Service) buildVia(transport string) string {
	cfg := s.currentConfig()
	proto := "UDP"
	if strings.EqualFold(strings.TrimSpace(transport), "tcp") {
		proto = "TCP"
	}
	host := strings.TrimSpace(cfg.SIPListenIP)
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("SIP/2.0/%s %s:%d", proto, host, cfg.SIPListenPort)
}

// nextSN yields a time-seeded increasing sequence number for Query/Control
// envelopes.
func (s *Service) nextSN() int64 {
	s.snMu.Lock()
	defer s.snMu.Unlock()
	candidate := time.Now().UnixNano() % 100000000000
	if candidate <= s.lastSN {
		candidate = s.lastSN + 1
	}
	s.lastSN = candidate
	return candidate
}
