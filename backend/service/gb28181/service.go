package gb28181

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"videosurveillance/platform/backend/config"
	"videosurveillance/platform/backend/sip"
	"videosurveillance/platform/backend/store"
)

const userAgent = "VideoSurveillancePlatform-GB28181/1.0"

// Transport is the narrow signaling capability the core consumes. Protocol
// logic never sees sockets or framing.
type Transport interface {
	SendTo(transport string, deviceID string, remoteAddr string, payload string) error
	BindDevice(deviceID string, remote string)
}

// MediaController is the slice of the orchestrator the signaling flows need.
type MediaController interface {
	OpenLiveSession(ctx context.Context, deviceID string, channelID string, ssrc string, tcpMode int) (*store.StreamSession, error)
	CloseByCallID(ctx context.Context, callID string) (bool, error)
}

// Notifier pushes platform events to subscribed observers. May be nil.
type Notifier interface {
	Publish(topic string, data any)
}

// Service routes inbound SIP traffic to the registration, command and
// stream-negotiation flows, and builds outbound requests toward devices.
type Service struct {
	store     *store.Store
	registry  *Registry
	transport Transport
	media     MediaController
	events    Notifier

	mu   sync.RWMutex
	cfg  config.Config
	auth *Authenticator

	snMu   sync.Mutex
	lastSN int64
}

func New(storeDB *store.Store, cfg config.Config, transport Transport, media MediaController, events Notifier) *Service {
	return &Service{
		store:     storeDB,
		registry:  NewRegistry(),
		transport: transport,
		media:     media,
		events:    events,
		cfg:       cfg,
		auth:      NewAuthenticator(cfg.SIPDomain),
	}
}

func (s *Service) UpdateConfig(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.SIPDomain != cfg.SIPDomain {
		s.auth = NewAuthenticator(cfg.SIPDomain)
	}
	s.cfg = cfg
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) IsDeviceOnline(deviceID string) bool {
	return s.registry.IsOnline(deviceID)
}

func (s *Service) currentConfig() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) currentAuth() *Authenticator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

// HandleMessage is the protocol dispatcher. One call per inbound transaction;
// calls arrive concurrently across devices.
func (s *Service) HandleMessage(ctx context.Context, msg *sip.Message, remote string, transport string, send func(string) error) {
	if msg.IsResponse {
		s.handleResponse(ctx, msg)
		return
	}
	switch msg.Method {
	case "REGISTER":
		s.handleRegister(ctx, msg, remote, transport, send)
	case "MESSAGE":
		s.handleCommandMessage(ctx, msg, remote, transport, send)
	case "INVITE":
		s.handleInvite(ctx, msg, remote, transport, send)
	case "BYE":
		s.handleBye(ctx, msg, send)
	case "ACK":
		// Observed, not acted upon.
	default:
		s.reply(send, sip.BuildResponse(msg, 501, "Not Implemented", s.baseHeaders(), ""))
	}
}

func (s *Service) handleRegister(ctx context.Context, msg *sip.Message, remote string, transport string, send func(string) error) {
	deviceID := firstNonEmpty(
		sip.ExtractUser(msg.Header("From")),
		sip.ExtractUser(msg.Header("To")),
		sip.ExtractUser(msg.Header("Authorization")),
	)
	if deviceID == "" {
		s.reply(send, sip.BuildResponse(msg, 400, "Bad Request", s.baseHeaders(), ""))
		return
	}
	cfg := s.currentConfig()

	password := strings.TrimSpace(cfg.SIPPassword)
	if current, err := s.store.GetDeviceByDeviceID(ctx, deviceID); err == nil && strings.TrimSpace(current.AuthPassword) != "" {
		password = strings.TrimSpace(current.AuthPassword)
	}

	if password != "" {
		authHeader := strings.TrimSpace(msg.Header("Authorization"))
		if authHeader == "" {
			challenge := s.currentAuth().Issue(deviceID)
			headers := s.baseHeaders()
			headers["WWW-Authenticate"] = challenge.WWWAuthenticate()
			s.reply(send, sip.BuildResponse(msg, 401, "Unauthorized", headers, ""))
			return
		}
		if !s.verifyRegister(deviceID, msg, authHeader, password) {
			s.reply(send, sip.BuildResponse(msg, 403, "Forbidden", s.baseHeaders(), ""))
			return
		}
	}

	expires := sip.ParseExpires(msg.Header("Expires"), msg.Header("Contact"), cfg.RegisterExpires)
	host, port := splitRemote(remote)
	callID := strings.TrimSpace(msg.Header("Call-ID"))
	fromTag := sip.ExtractTag(msg.Header("From"))

	if expires == 0 {
		s.registry.Remove(deviceID)
	} else {
		s.registry.UpdateRegistration(deviceID, host, port, transport, expires, callID, fromTag, "")
	}

	now := time.Now().UTC()
	status := store.DeviceStatusOnline
	if expires == 0 {
		status = store.DeviceStatusOffline
	}
	if _, err := s.store.UpsertRuntimeDevice(ctx, store.DeviceUpsertRequest{
		DeviceID:        deviceID,
		IPAddress:       host,
		Port:            port,
		Transport:       transport,
		Expires:         expires,
		RegisterAt:      &now,
		LastKeepaliveAt: &now,
		Status:          status,
	}); err != nil {
		log.Printf("[gb28181][warn] register persist failed device=%s: %v", deviceID, err)
	}

	if transport == "tcp" {
		s.transport.BindDevice(deviceID, remote)
	}

	headers := s.baseHeaders()
	headers["Date"] = time.Now().UTC().Format(time.RFC1123)
	headers["Expires"] = strconv.Itoa(expires)
	s.reply(send, sip.BuildResponse(msg, 200, "OK", headers, ""))

	if status == store.DeviceStatusOnline {
		s.publish("device.online", map[string]any{"deviceId": deviceID, "expires": expires})
		// Refresh catalog and device info after registration; answers come
		// back later as independent inbound MESSAGEs.
		go func(deviceID string) {
			queryCtx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
			defer cancel()
			if err := s.QueryCatalog(queryCtx, deviceID); err != nil {
				log.Printf("[gb28181][warn] auto catalog query failed device=%s: %v", deviceID, err)
			}
			if err := s.QueryDeviceInfo(queryCtx, deviceID); err != nil {
				log.Printf("[gb28181][warn] auto device info query failed device=%s: %v", deviceID, err)
			}
		}(deviceID)
	} else {
		s.publish("device.offline", map[string]any{"deviceId": deviceID})
	}
}

func (s *Service) verifyRegister(deviceID string, msg *sip.Message, authHeader string, password string) bool {
	params := sip.ParseDigestAuthorization(authHeader)
	if len(params) == 0 {
		return false
	}
	username := strings.TrimSpace(params["username"])
	if username == "" {
		username = deviceID
	}
	uri := strings.TrimSpace(params["uri"])
	if uri == "" {
		uri = strings.TrimSpace(msg.URI)
	}
	return s.currentAuth().Verify(username, params["realm"], params["nonce"], uri, "REGISTER", params["response"], password)
}

func (s *Service) handleCommandMessage(ctx context.Context, msg *sip.Message, remote string, transport string, send func(string) error) {
	deviceID := firstNonEmpty(sip.ExtractUser(msg.Header("From")), sip.ExtractUser(msg.Header("To")))
	if deviceID == "" || strings.TrimSpace(msg.Body) == "" {
		s.reply(send, sip.BuildResponse(msg, 400, "Bad Request", s.baseHeaders(), ""))
		return
	}

	command, err := ParseCommandBody(msg.Body)
	if err != nil {
		// Acceptance does not depend on recognizing the payload.
		log.Printf("[gb28181][warn] unparseable command body device=%s: %v", deviceID, err)
		s.reply(send, sip.BuildResponse(msg, 200, "OK", s.baseHeaders(), ""))
		return
	}

	switch strings.ToLower(command.CmdType) {
	case "keepalive":
		s.handleKeepalive(ctx, deviceID, remote, transport)
	case "catalog":
		s.handleCatalog(ctx, deviceID, command)
	case "deviceinfo":
		s.handleDeviceInfo(ctx, deviceID, command)
	case "devicestatus":
		log.Printf("[gb28181] device status report device=%s status=%s", deviceID, command.Status)
	default:
		log.Printf("[gb28181] unrecognized command type %q from device=%s", command.CmdType, deviceID)
	}

	if transport == "tcp" {
		s.transport.BindDevice(deviceID, remote)
	}
	s.reply(send, sip.BuildResponse(msg, 200, "OK", s.baseHeaders(), ""))
}

func (s *Service) handleKeepalive(ctx context.Context, deviceID string, remote string, transport string) {
	refreshed := s.registry.RefreshKeepalive(deviceID)
	host, port := splitRemote(remote)
	if err := s.store.TouchDeviceKeepalive(ctx, deviceID, host, port); err != nil {
		// Device missed registration (e.g. after a platform restart); adopt it.
		now := time.Now().UTC()
		if _, upsertErr := s.store.UpsertRuntimeDevice(ctx, store.DeviceUpsertRequest{
			DeviceID:        deviceID,
			IPAddress:       host,
			Port:            port,
			Transport:       transport,
			LastKeepaliveAt: &now,
			Status:          store.DeviceStatusOnline,
		}); upsertErr != nil {
			log.Printf("[gb28181][warn] keepalive persist failed device=%s: %v", deviceID, upsertErr)
		}
	}
	if !refreshed {
		cfg := s.currentConfig()
		s.registry.UpdateRegistration(deviceID, host, port, transport, cfg.RegisterExpires, "", "", "")
	}
	s.publish("device.keepalive", map[string]any{"deviceId": deviceID})
}

func (s *Service) handleCatalog(ctx context.Context, deviceID string, command *InboundCommand) {
	items := command.Channels
	for i := range items {
		if items[i].DeviceID == "" {
			items[i].DeviceID = deviceID
		}
	}
	saved, err := s.store.UpsertChannels(ctx, items)
	if err != nil {
		log.Printf("[gb28181][warn] catalog upsert incomplete device=%s: %v", deviceID, err)
	}
	log.Printf("[gb28181] catalog ingested device=%s items=%d saved=%d", deviceID, len(items), saved)
	s.publish("device.catalog", map[string]any{"deviceId": deviceID, "channels": saved})
}

func (s *Service) handleDeviceInfo(ctx context.Context, deviceID string, command *InboundCommand) {
	if err := s.store.UpdateDeviceInfo(ctx, deviceID, command.DeviceName, command.Manufacturer, command.Model, command.Firmware); err != nil {
		log.Printf("[gb28181][warn] device info update failed device=%s: %v", deviceID, err)
		return
	}
	log.Printf("[gb28181] device info device=%s manufacturer=%s model=%s firmware=%s",
		deviceID, command.Manufacturer, command.Model, command.Firmware)
}

func (s *Service) handleInvite(ctx context.Context, msg *sip.Message, remote string, transport string, send func(string) error) {
	_ = remote
	_ = transport
	deviceID := sip.ExtractUser(msg.Header("From"))
	channelID := firstNonEmpty(sip.ExtractUser(msg.URI), sip.ExtractUser(msg.Header("To")))
	if deviceID == "" || channelID == "" {
		s.reply(send, sip.BuildResponse(msg, 400, "Bad Request", s.baseHeaders(), ""))
		return
	}
	if !s.registry.IsOnline(deviceID) {
		s.reply(send, sip.BuildResponse(msg, 500, "Server Internal Error", s.baseHeaders(), ""))
		return
	}
	if strings.TrimSpace(msg.Body) == "" {
		s.reply(send, sip.BuildResponse(msg, 400, "Bad Request", s.baseHeaders(), ""))
		return
	}

	ssrc := sip.GenerateNumericToken(10)
	session, err := s.media.OpenLiveSession(ctx, deviceID, channelID, ssrc, 0)
	if err != nil {
		log.Printf("[gb28181][warn] open live session failed device=%s channel=%s: %v", deviceID, channelID, err)
		s.reply(send, sip.BuildResponse(msg, 500, "Server Internal Error", s.baseHeaders(), ""))
		return
	}

	callID := strings.TrimSpace(msg.Header("Call-ID"))
	fromTag := sip.ExtractTag(msg.Header("From"))
	if err := s.store.AttachStreamSessionDialog(ctx, session.SessionID, callID, fromTag, ""); err != nil {
		log.Printf("[gb28181][warn] attach dialog failed session=%s: %v", session.SessionID, err)
	}

	cfg := s.currentConfig()
	sdp := buildSDP(cfg.SIPID, cfg.MediaIP, session.RTPPort, ssrc)
	headers := s.baseHeaders()
	headers["Contact"] = fmt.Sprintf("<sip:%s@%s:%d>", cfg.SIPID, cfg.SIPListenIP, cfg.SIPListenPort)
	headers["Content-Type"] = "Application/SDP"
	s.reply(send, sip.BuildResponse(msg, 200, "OK", headers, sdp))
	s.publish("stream.opened", map[string]any{"sessionId": session.SessionID, "deviceId": deviceID, "channelId": channelID})
}

func (s *Service) handleBye(ctx context.Context, msg *sip.Message, send func(string) error) {
	callID := strings.TrimSpace(msg.Header("Call-ID"))
	found, err := s.media.CloseByCallID(ctx, callID)
	if err != nil {
		log.Printf("[gb28181][warn] bye close failed callId=%s: %v", callID, err)
		s.reply(send, sip.BuildResponse(msg, 500, "Server Internal Error", s.baseHeaders(), ""))
		return
	}
	if found {
		s.publish("stream.closed", map[string]any{"callId": callID})
	} else {
		log.Printf("[gb28181] bye for unknown dialog callId=%s", callID)
	}
	s.reply(send, sip.BuildResponse(msg, 200, "OK", s.baseHeaders(), ""))
}

func (s *Service) handleResponse(ctx context.Context, msg *sip.Message) {
	if msg.StatusCode <= 0 {
		return
	}
	parts := strings.Fields(msg.Header("CSeq"))
	if len(parts) < 2 {
		return
	}
	method := strings.ToUpper(strings.TrimSpace(parts[1]))
	callID := strings.TrimSpace(msg.Header("Call-ID"))
	if callID == "" {
		return
	}

	switch method {
	case "INVITE":
		if msg.StatusCode >= 200 && msg.StatusCode < 300 {
			// The answer echoes our own identity in From, so the device is
			// found through the dialog's stream session, not the headers.
			session, err := s.store.GetActiveStreamSessionByCallID(ctx, callID)
			if err != nil {
				log.Printf("[gb28181][warn] invite answer for unknown dialog callId=%s: %v", callID, err)
				return
			}
			// Without an ACK many devices never start pushing media.
			if err := s.sendInviteACK(ctx, msg, session); err != nil {
				log.Printf("[gb28181][warn] invite ack failed callId=%s: %v", callID, err)
			}
			toTag := sip.ExtractTag(msg.Header("To"))
			if err := s.store.AttachStreamSessionDialog(ctx, session.SessionID, callID, "", toTag); err != nil {
				log.Printf("[gb28181][warn] attach to-tag failed session=%s: %v", session.SessionID, err)
			}
			return
		}
		if msg.StatusCode >= 300 {
			if _, err := s.media.CloseByCallID(ctx, callID); err != nil {
				log.Printf("[gb28181][warn] close after invite rejection failed callId=%s: %v", callID, err)
			}
		}
	case "BYE":
		// Session was already finalized when the BYE was sent.
	}
}

func (s *Service) sendInviteACK(ctx context.Context, response *sip.Message, session *store.StreamSession) error {
	device, err := s.store.GetDeviceByDeviceID(ctx, session.DeviceID)
	if err != nil {
		return err
	}
	cfg := s.currentConfig()
	seqNo := sip.ParseCSeqNumber(response.Header("CSeq"))
	if seqNo <= 0 {
		seqNo = 1
	}
	uri := strings.TrimSpace(response.URI)
	if uri == "" {
		uri = fmt.Sprintf("sip:%s@%s", session.ChannelID, cfg.SIPDomain)
	}
	request := sip.BuildRequest("ACK", uri, map[string]string{
		"Via":          s.buildVia(device.Transport),
		"From":         response.Header("From"),
		"To":           response.Header("To"),
		"Call-ID":      session.CallID,
		"CSeq":         fmt.Sprintf("%d ACK", seqNo),
		"Max-Forwards": "70",
		"User-Agent":   userAgent,
	}, "")
	return s.sendToDevice(device, request)
}

func (s *Service) baseHeaders() map[string]string {
	return map[string]string{"User-Agent": userAgent}
}

func (s *Service) reply(send func(string) error, payload string) {
	if err := send(payload); err != nil {
		log.Printf("[gb28181][warn] send response failed: %v", err)
	}
}

func (s *Service) publish(topic string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(topic, data)
}

func buildSDP(platformID string, mediaIP string, port int, ssrc string) string {
	return strings.Join([]string{
		"v=0",
		fmt.Sprintf("o=%s 0 0 IN IP4 %s", platformID, mediaIP),
		"s=Play",
		fmt.Sprintf("c=IN IP4 %s", mediaIP),
		"t=0 0",
		fmt.Sprintf("m=video %d RTP/AVP 96 98 97", port),
		"a=rtpmap:96 PS/90000",
		"a=rtpmap:98 H264/90000",
		"a=rtpmap:97 MPEG4/90000",
		"a=recvonly",
		"a=setup:passive",
		"a=connection:new",
		fmt.Sprintf("y=%s", ssrc),
		"",
	}, "\r\n")
}

func splitRemote(remote string) (string, int) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(remote))
	if err != nil {
		return strings.TrimSpace(remote), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
