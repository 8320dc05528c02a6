package proxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"igfollowers/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestManager(clock *fakeClock) *Manager {
	m := NewManager(30*time.Minute, logger.NewNopLogger())
	m.now = clock.now
	m.lastRot = clock.t
	return m
}

func TestNextEmptyPool(t *testing.T) {
	m := NewManager(0, logger.NewNopLogger())
	p, ok := m.Next()
	assert.False(t, ok)
	assert.Empty(t, p)
}

func TestNextRoundRobin(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newTestManager(clock)
	m.Add("http://a:1")
	m.Add("http://b:1")
	m.Add("http://c:1")

	var got []string
	for i := 0; i < 6; i++ {
		p, ok := m.Next()
		require.True(t, ok)
		got = append(got, p)
	}
	assert.Equal(t, []string{
		"http://a:1", "http://b:1", "http://c:1",
		"http://a:1", "http://b:1", "http://c:1",
	}, got)
}

func TestNextReshufflesAfterInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newTestManager(clock)
	shuffled := 0
	m.shuffle = func(p []string) {
		shuffled++
		for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
			p[i], p[j] = p[j], p[i]
		}
	}
	m.Add("a")
	m.Add("b")
	m.Add("c")

	first, _ := m.Next()
	assert.Equal(t, "a", first)
	assert.Equal(t, 0, shuffled)

	clock.t = clock.t.Add(31 * time.Minute)
	p, _ := m.Next()
	assert.Equal(t, 1, shuffled)
	// index resets to the head of the reversed order
	assert.Equal(t, "c", p)

	p, _ = m.Next()
	assert.Equal(t, "b", p)
	assert.Equal(t, 1, shuffled)
}

func TestAddIsIdempotent(t *testing.T) {
	m := NewManager(0, logger.NewNopLogger())
	assert.True(t, m.Add("http://a:1"))
	assert.False(t, m.Add("http://a:1"))
	assert.False(t, m.Add("   "))
	assert.Equal(t, 1, m.Count())
}

func TestRemoveAndClear(t *testing.T) {
	m := NewManager(0, logger.NewNopLogger())
	m.Add("a")
	m.Add("b")
	m.Next()
	m.Next()

	assert.True(t, m.Remove("b"))
	assert.False(t, m.Remove("missing"))
	assert.Equal(t, []string{"a"}, m.List())

	p, ok := m.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", p)

	m.Clear()
	assert.Equal(t, 0, m.Count())
	_, ok = m.Next()
	assert.False(t, ok)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://env:8080")
	t.Setenv("HTTPS_PROXY", "http://env:8080")
	t.Setenv("http_proxy", "")
	t.Setenv("https_proxy", "http://secure:8443")

	m := NewManager(0, logger.NewNopLogger())
	assert.Equal(t, 2, m.LoadFromEnv())
	assert.ElementsMatch(t, []string{"http://env:8080", "http://secure:8443"}, m.List())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "# residential\nhttp://one:1\n\nhttp://two:2\nhttp://one:1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m := NewManager(0, logger.NewNopLogger())
	added, err := m.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"http://one:1", "http://two:2"}, m.List())

	_, err = m.LoadFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
