package gb28181

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreateIsAtomic(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.GetOrCreate("34020000001320000001")
		}()
	}
	wg.Wait()
	require.Len(t, registry.Sessions(), 1)
}

func TestRegistryUpdateRegistration(t *testing.T) {
	registry := NewRegistry()
	session := registry.UpdateRegistration("dev-1", "192.168.1.10", 5060, "UDP", 3600, "call-1", "tag-1", "")
	require.Equal(t, "192.168.1.10", session.IP)
	require.Equal(t, 5060, session.Port)
	require.Equal(t, "udp", session.Transport)
	require.Equal(t, 3600, session.Expires)
	require.Equal(t, "call-1", session.CallID)
	require.False(t, session.RegisterAt.IsZero())

	// Re-registration overwrites in place.
	registry.UpdateRegistration("dev-1", "192.168.1.11", 5061, "tcp", 60, "call-2", "tag-2", "")
	got, ok := registry.Get("dev-1")
	require.True(t, ok)
	require.Equal(t, "192.168.1.11", got.IP)
	require.Equal(t, "call-2", got.CallID)
	require.Len(t, registry.Sessions(), 1)
}

func TestRegistryOnlineEvaluatesLazily(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	registry := NewRegistry()
	registry.now = func() time.Time { return current }

	registry.UpdateRegistration("dev-1", "10.0.0.1", 5060, "udp", 60, "", "", "")
	require.True(t, registry.IsOnline("dev-1"))
	require.Equal(t, 1, registry.OnlineCount())

	// Inside the expiry window.
	current = current.Add(59 * time.Second)
	require.True(t, registry.IsOnline("dev-1"))

	// Past it: no sweep runs, the answer just changes.
	current = current.Add(2 * time.Second)
	require.False(t, registry.IsOnline("dev-1"))
	require.Equal(t, 0, registry.OnlineCount())

	// A keepalive revives it.
	require.True(t, registry.RefreshKeepalive("dev-1"))
	require.True(t, registry.IsOnline("dev-1"))
}

func TestRegistryZeroExpiresIsOffline(t *testing.T) {
	registry := NewRegistry()
	registry.UpdateRegistration("dev-1", "10.0.0.1", 5060, "udp", 0, "", "", "")
	require.False(t, registry.IsOnline("dev-1"))
}

func TestRegistryUnknownDevice(t *testing.T) {
	registry := NewRegistry()
	require.False(t, registry.IsOnline("missing"))
	require.False(t, registry.RefreshKeepalive("missing"))
	_, ok := registry.Get("missing")
	require.False(t, ok)
}

func TestRegistryReturnsCopies(t *testing.T) {
	registry := NewRegistry()
	registry.UpdateRegistration("dev-1", "10.0.0.1", 5060, "udp", 3600, "", "", "")
	session, ok := registry.Get("dev-1")
	require.True(t, ok)
	session.IP = "changed"
	again, _ := registry.Get("dev-1")
	require.Equal(t, "10.0.0.1", again.IP)
}

func TestRegistryConcurrentMixedAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", n%4)
			registry.UpdateRegistration(id, "10.0.0.1", 5060, "udp", 3600, "", "", "")
			registry.RefreshKeepalive(id)
			registry.IsOnline(id)
			registry.Sessions()
		}(i)
	}
	wg.Wait()
	require.Len(t, registry.Sessions(), 4)
}
