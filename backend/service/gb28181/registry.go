package gb28181

import (
	"strings"
	"sync"
	"time"
)

// Session is the in-memory record for one registered device. The registry is
// its single owner; callers receive copies.
type Session struct {
	DeviceID      string    `json:"deviceId"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	Transport     string    `json:"transport"`
	RegisterAt    time.Time `json:"registerAt"`
	LastKeepalive time.Time `json:"lastKeepalive"`
	Expires       int       `json:"expires"`
	CallID        string    `json:"callId"`
	FromTag       string    `json:"fromTag"`
	ToTag         string    `json:"toTag"`
}

// Registry tracks device sessions keyed by device id. At most one session
// exists per id; re-registration updates the record in place.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// GetOrCreate returns a copy of the session for deviceID, creating an empty
// one first if absent. Create-or-get is atomic under concurrent callers.
func (r *Registry) GetOrCreate(deviceID string) Session {
	deviceID = strings.TrimSpace(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[deviceID]
	if !ok {
		session = &Session{DeviceID: deviceID}
		r.sessions[deviceID] = session
	}
	return *session
}

func (r *Registry) Get(deviceID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[strings.TrimSpace(deviceID)]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(deviceID))
}

// UpdateRegistration overwrites the address, expiry and dialog fields for a
// device, creating the session when needed. Last write wins.
func (r *Registry) UpdateRegistration(deviceID string, ip string, port int, transport string, expires int, callID string, fromTag string, toTag string) Session {
	deviceID = strings.TrimSpace(deviceID)
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[deviceID]
	if !ok {
		session = &Session{DeviceID: deviceID}
		r.sessions[deviceID] = session
	}
	session.IP = strings.TrimSpace(ip)
	session.Port = port
	session.Transport = strings.ToLower(strings.TrimSpace(transport))
	session.RegisterAt = now
	session.LastKeepalive = now
	session.Expires = expires
	session.CallID = strings.TrimSpace(callID)
	session.FromTag = strings.TrimSpace(fromTag)
	session.ToTag = strings.TrimSpace(toTag)
	return *session
}

// RefreshKeepalive bumps the liveness timestamp. No-op when the device is
// not registered.
func (r *Registry) RefreshKeepalive(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[strings.TrimSpace(deviceID)]
	if !ok {
		return false
	}
	session.LastKeepalive = r.now()
	return true
}

// IsOnline evaluates liveness lazily: a device is online while the last
// keepalive is younger than its declared expiry. Absent devices are offline.
func (r *Registry) IsOnline(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[strings.TrimSpace(deviceID)]
	if !ok {
		return false
	}
	return r.sessionOnlineLocked(session)
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, session := range r.sessions {
		if r.sessionOnlineLocked(session) {
			count++
		}
	}
	return count
}

func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		items = append(items, *session)
	}
	return items
}

func (r *Registry) sessionOnlineLocked(session *Session) bool {
	if session.Expires <= 0 || session.LastKeepalive.IsZero() {
		return false
	}
	deadline := session.LastKeepalive.Add(time.Duration(session.Expires) * time.Second)
	return r.now().Before(deadline)
}
