package sip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives every inbound message. send writes a payload back over the
// same transport the message arrived on.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message, remote string, transport string, send func(string) error)
}

// Sender is the outbound capability the signaling core consumes. Protocol
// logic never touches sockets directly.
type Sender interface {
	SendTo(transport string, deviceID string, remoteAddr string, payload string) error
}

type RuntimeStatus struct {
	Running      bool       `json:"running"`
	BindAddrs    []string   `json:"bindAddrs"`
	Transport    string     `json:"transport"`
	Received     int64      `json:"received"`
	Sent         int64      `json:"sent"`
	LastPacketAt *time.Time `json:"lastPacketAt,omitempty"`
	LastError    string     `json:"lastError"`
}

type tcpPeer struct {
	conn      net.Conn
	mu        sync.Mutex
	remote    string
	lastSeen  time.Time
	deviceIDs map[string]struct{}
}

type GatewayOptions struct {
	ListenIP   string
	ListenPort int
	Transport  string // udp, tcp or both
}

// Gateway owns the UDP and TCP listeners and the TCP peer table. It hands
// parsed traffic to a Handler and exposes SendTo for outbound requests.
type Gateway struct {
	opts    GatewayOptions
	handler Handler

	mu          sync.RWMutex
	running     bool
	bindAddrs   []string
	udpConn     *net.UDPConn
	tcpListener net.Listener
	stopCh      chan struct{}
	wg          sync.WaitGroup
	lastPacket  time.Time
	lastError   string

	received int64
	sent     int64

	tcpPeersMu sync.RWMutex
	tcpPeers   map[string]*tcpPeer
}

func NewGateway(opts GatewayOptions) *Gateway {
	return &Gateway{
		opts:     opts,
		tcpPeers: make(map[string]*tcpPeer),
	}
}

func (g *Gateway) SetHandler(handler Handler) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.stopCh = make(chan struct{})
	g.bindAddrs = nil
	g.lastError = ""
	g.lastPacket = time.Time{}
	atomic.StoreInt64(&g.received, 0)
	atomic.StoreInt64(&g.sent, 0)
	g.running = true
	g.mu.Unlock()

	var startErr error
	transport := strings.ToLower(strings.TrimSpace(g.opts.Transport))
	if transport == "" {
		transport = "udp"
	}
	switch transport {
	case "udp":
		startErr = g.startUDP()
	case "tcp":
		startErr = g.startTCP()
	case "both":
		if err := g.startUDP(); err != nil {
			startErr = err
		}
		if err := g.startTCP(); err != nil {
			if startErr == nil {
				startErr = err
			} else {
				startErr = fmt.Errorf("%v; %w", startErr, err)
			}
		}
	default:
		startErr = fmt.Errorf("unsupported sip transport: %s", transport)
	}
	if startErr != nil {
		_ = g.Stop(context.Background())
		return startErr
	}
	_ = ctx
	log.Printf("[sip] gateway started transport=%s bind=%v", transport, g.Status().BindAddrs)
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	stopCh := g.stopCh
	udpConn := g.udpConn
	tcpListener := g.tcpListener
	g.running = false
	g.udpConn = nil
	g.tcpListener = nil
	g.stopCh = nil
	g.bindAddrs = nil
	g.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if udpConn != nil {
		_ = udpConn.Close()
	}
	if tcpListener != nil {
		_ = tcpListener.Close()
	}
	g.closeAllTCPPeers()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("[sip] gateway stopped")
	return nil
}

func (g *Gateway) Status() RuntimeStatus {
	g.mu.RLock()
	status := RuntimeStatus{
		Running:   g.running,
		BindAddrs: append([]string(nil), g.bindAddrs...),
		Transport: g.opts.Transport,
		Received:  atomic.LoadInt64(&g.received),
		Sent:      atomic.LoadInt64(&g.sent),
		LastError: g.lastError,
	}
	lastPacket := g.lastPacket
	g.mu.RUnlock()
	if !lastPacket.IsZero() {
		t := lastPacket
		status.LastPacketAt = &t
	}
	return status
}

// SendTo routes an outbound payload to a device. UDP sends go through the
// listening socket; TCP requires the device's inbound connection to be alive.
func (g *Gateway) SendTo(transport string, deviceID string, remoteAddr string, payload string) error {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "tcp":
		return g.sendTCP(deviceID, payload)
	default:
		return g.sendUDP(remoteAddr, payload)
	}
}

func (g *Gateway) startUDP() error {
	listenIP := strings.TrimSpace(g.opts.ListenIP)
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}
	addr := &net.UDPAddr{IP: net.ParseIP(listenIP), Port: g.opts.ListenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.udpConn = conn
	g.bindAddrs = append(g.bindAddrs, conn.LocalAddr().String())
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		buffer := make([]byte, 64*1024)
		for {
			n, remote, readErr := conn.ReadFromUDP(buffer)
			if readErr != nil {
				if !g.isRunning() {
					return
				}
				g.setLastError(readErr)
				continue
			}
			g.markReceive()
			raw := string(buffer[:n])
			if strings.TrimSpace(raw) == "" {
				continue
			}
			send := func(payload string) error {
				if strings.TrimSpace(payload) == "" {
					return nil
				}
				_, err := conn.WriteToUDP([]byte(payload), remote)
				if err == nil {
					g.markSent()
				}
				return err
			}
			g.dispatch(raw, remote.String(), "udp", send)
		}
	}()
	return nil
}

func (g *Gateway) startTCP() error {
	listenIP := strings.TrimSpace(g.opts.ListenIP)
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", listenIP, g.opts.ListenPort))
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.tcpListener = ln
	g.bindAddrs = append(g.bindAddrs, ln.Addr().String())
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				if !g.isRunning() {
					return
				}
				g.setLastError(acceptErr)
				continue
			}
			g.wg.Add(1)
			go func(c net.Conn) {
				defer g.wg.Done()
				g.handleTCPConnection(c)
			}(conn)
		}
	}()
	return nil
}

func (g *Gateway) handleTCPConnection(conn net.Conn) {
	defer conn.Close()
	peer := &tcpPeer{
		conn:      conn,
		remote:    conn.RemoteAddr().String(),
		lastSeen:  time.Now(),
		deviceIDs: make(map[string]struct{}),
	}
	g.registerTCPPeer(peer)
	defer g.unregisterTCPPeer(peer)

	reader := bufio.NewReader(conn)
	for {
		raw, readErr := ReadPacket(reader)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return
			}
			g.setLastError(readErr)
			return
		}
		g.markReceive()
		send := func(payload string) error {
			if strings.TrimSpace(payload) == "" {
				return nil
			}
			peer.mu.Lock()
			defer peer.mu.Unlock()
			if _, err := io.WriteString(conn, payload); err != nil {
				return err
			}
			g.markSent()
			return nil
		}
		g.dispatch(raw, peer.remote, "tcp", send)
	}
}

func (g *Gateway) dispatch(raw string, remote string, transport string, send func(string) error) {
	msg, err := Parse(raw)
	if err != nil {
		g.setLastError(err)
		return
	}
	g.mu.RLock()
	handler := g.handler
	g.mu.RUnlock()
	if handler == nil {
		return
	}
	handler.HandleMessage(context.Background(), msg, remote, transport, send)
}

// BindDevice associates a device id with its inbound TCP connection so later
// outbound requests can reuse it.
func (g *Gateway) BindDevice(deviceID string, remote string) {
	deviceID = strings.TrimSpace(deviceID)
	remote = strings.TrimSpace(remote)
	if deviceID == "" || remote == "" {
		return
	}
	g.tcpPeersMu.Lock()
	defer g.tcpPeersMu.Unlock()
	if peer, ok := g.tcpPeers[remote]; ok {
		peer.deviceIDs[deviceID] = struct{}{}
	}
}

func (g *Gateway) sendUDP(remoteAddr string, payload string) error {
	g.mu.RLock()
	conn := g.udpConn
	g.mu.RUnlock()
	if conn == nil {
		return errors.New("sip udp listener is not running")
	}
	addr, err := net.ResolveUDPAddr("udp", NormalizeRemoteAddr(strings.TrimSpace(remoteAddr), g.opts.ListenPort))
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDP([]byte(payload), addr); err != nil {
		return err
	}
	g.markSent()
	return nil
}

func (g *Gateway) sendTCP(deviceID string, payload string) error {
	peer := g.getTCPPeerByDeviceID(deviceID)
	if peer == nil {
		return errors.New("sip tcp peer not connected; wait for the device to reconnect")
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if _, err := io.WriteString(peer.conn, payload); err != nil {
		return err
	}
	peer.lastSeen = time.Now()
	g.markSent()
	return nil
}

func (g *Gateway) registerTCPPeer(peer *tcpPeer) {
	g.tcpPeersMu.Lock()
	defer g.tcpPeersMu.Unlock()
	g.tcpPeers[peer.remote] = peer
}

func (g *Gateway) unregisterTCPPeer(peer *tcpPeer) {
	g.tcpPeersMu.Lock()
	defer g.tcpPeersMu.Unlock()
	delete(g.tcpPeers, peer.remote)
}

func (g *Gateway) closeAllTCPPeers() {
	g.tcpPeersMu.Lock()
	defer g.tcpPeersMu.Unlock()
	for _, peer := range g.tcpPeers {
		_ = peer.conn.Close()
	}
	g.tcpPeers = make(map[string]*tcpPeer)
}

func (g *Gateway) getTCPPeerByDeviceID(deviceID string) *tcpPeer {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	g.tcpPeersMu.RLock()
	defer g.tcpPeersMu.RUnlock()
	for _, peer := range g.tcpPeers {
		if _, ok := peer.deviceIDs[deviceID]; ok {
			return peer
		}
	}
	return nil
}

func (g *Gateway) markReceive() {
	atomic.AddInt64(&g.received, 1)
	now := time.Now().UTC()
	g.mu.Lock()
	g.lastPacket = now
	g.mu.Unlock()
}

func (g *Gateway) markSent() {
	atomic.AddInt64(&g.sent, 1)
}

func (g *Gateway) setLastError(err error) {
	if err == nil {
		return
	}
	g.mu.Lock()
	g.lastError = err.Error()
	g.mu.Unlock()
	log.Printf("[sip][error] %v", err)
}

func (g *Gateway) isRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}
