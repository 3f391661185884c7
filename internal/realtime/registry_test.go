package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []Message
	full     bool
}

func (s *recordingSink) Deliver(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *recordingSink) received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return r
}

const (
	uaChrome  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0"
	uaFirefox = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
	uaSafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
)

func TestRegistry_RegisterRequiresPrincipal(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("s1", SessionInfo{}, &recordingSink{})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_RejectsDuplicateID(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("s1", SessionInfo{PrincipalID: "u1"}, &recordingSink{})
	require.NoError(t, err)
	_, err = r.Register("s1", SessionInfo{PrincipalID: "u2"}, &recordingSink{})
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.Empty(t, r.SessionsOf("u2"))
}

func TestRegistry_GroupsByPrincipal(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("a1", SessionInfo{PrincipalID: "alice", Username: "alice", UserAgent: uaChrome}, &recordingSink{})
	require.NoError(t, err)
	_, err = r.Register("b1", SessionInfo{PrincipalID: "bob", Username: "bob", IsAdmin: true, UserAgent: uaFirefox}, &recordingSink{})
	require.NoError(t, err)
	_, err = r.Register("a2", SessionInfo{PrincipalID: "alice", Username: "alice", UserAgent: uaEdge}, &recordingSink{})
	require.NoError(t, err)
	_, err = r.Register("a3", SessionInfo{PrincipalID: "alice", Username: "alice", UserAgent: uaChrome}, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 4, r.Count())

	alice := r.SessionsOf("alice")
	require.Len(t, alice, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{alice[0].ID, alice[1].ID, alice[2].ID})

	groups := r.AllGroupedByPrincipal()
	require.Len(t, groups, 2)
	assert.Equal(t, "alice", groups[0].PrincipalID)
	assert.Equal(t, map[string]int{BrowserChrome: 2, BrowserEdge: 1}, groups[0].Browsers)
	assert.Equal(t, "bob", groups[1].PrincipalID)
	assert.True(t, groups[1].IsAdmin)
	assert.Equal(t, map[string]int{BrowserFirefox: 1}, groups[1].Browsers)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("s1", SessionInfo{PrincipalID: "u1"}, &recordingSink{})
	require.NoError(t, err)

	sess, ok := r.Unregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", sess.PrincipalID)

	_, ok = r.Unregister("s1")
	assert.False(t, ok)
	_, ok = r.Unregister("never-existed")
	assert.False(t, ok)

	assert.Equal(t, 0, r.Count())
	_, found := r.GroupOf("u1")
	assert.False(t, found)
	assert.Empty(t, r.AllGroupedByPrincipal())
}

func TestRegistry_GroupOf(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("s1", SessionInfo{PrincipalID: "u1", Username: "carol", UserAgent: uaSafari}, &recordingSink{})
	require.NoError(t, err)

	group, ok := r.GroupOf("u1")
	require.True(t, ok)
	assert.Equal(t, "carol", group.Username)
	assert.Equal(t, map[string]int{BrowserSafari: 1}, group.Browsers)
	require.Len(t, group.Sessions, 1)
	assert.False(t, group.Sessions[0].ConnectedAt.IsZero())
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			principal := fmt.Sprintf("u%d", i%5)
			_, err := r.Register(id, SessionInfo{PrincipalID: principal}, &recordingSink{})
			assert.NoError(t, err)
			_ = r.SessionsOf(principal)
			_ = r.AllGroupedByPrincipal()
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
	total := 0
	for _, g := range r.AllGroupedByPrincipal() {
		total += len(g.Sessions)
	}
	assert.Equal(t, 25, total)
}

func TestClassifyBrowser(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"edge wins over chrome", uaEdge, BrowserEdge},
		{"chrome", uaChrome, BrowserChrome},
		{"firefox", uaFirefox, BrowserFirefox},
		{"safari", uaSafari, BrowserSafari},
		{"legacy opera", "Opera/9.80 (Windows NT 6.1) Presto/2.12.388 Version/12.16", BrowserOpera},
		{"chromium opera reports chrome", "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0 Safari/537.36 OPR/106.0", BrowserChrome},
		{"empty", "", BrowserUnknown},
		{"cli", "curl/8.5.0", BrowserUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyBrowser(tt.ua))
		})
	}
}
