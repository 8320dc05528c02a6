// Package proxy rotates outbound proxies for new sessions.
package proxy

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"igfollowers/pkg/logger"
)

// DefaultRotationInterval is how long the current ordering is kept before a reshuffle
const DefaultRotationInterval = 30 * time.Minute

// Manager hands out proxy URLs round-robin and reshuffles the pool
// once the rotation interval has elapsed.
type Manager struct {
	mu       sync.Mutex
	proxies  []string
	index    int
	interval time.Duration
	lastRot  time.Time

	now     func() time.Time
	shuffle func([]string)
	log     logger.Logger
}

// NewManager creates an empty manager. A non-positive interval uses the default.
func NewManager(interval time.Duration, log logger.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	m := &Manager{
		interval: interval,
		now:      time.Now,
		shuffle: func(p []string) {
			rand.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
		},
		log: logger.OrDefault(log).WithField("component", "proxy"),
	}
	m.lastRot = m.now()
	return m
}

// Next returns the next proxy. An empty pool returns ("", false).
func (m *Manager) Next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return "", false
	}

	if now := m.now(); now.Sub(m.lastRot) >= m.interval {
		m.rotateLocked(now)
	}

	p := m.proxies[m.index%len(m.proxies)]
	m.index = (m.index + 1) % len(m.proxies)
	return p, true
}

// Rotate reshuffles the pool immediately
func (m *Manager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked(m.now())
}

func (m *Manager) rotateLocked(now time.Time) {
	m.shuffle(m.proxies)
	m.index = 0
	m.lastRot = now
	m.log.DebugWithFields("Proxy pool rotated", map[string]interface{}{
		"count": len(m.proxies),
	})
}

// Add inserts a proxy if it is not already present. Blank entries are ignored.
func (m *Manager) Add(p string) bool {
	p = strings.TrimSpace(p)
	if p == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.proxies {
		if existing == p {
			return false
		}
	}
	m.proxies = append(m.proxies, p)
	return true
}

// Remove deletes a proxy from the pool
func (m *Manager) Remove(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.proxies {
		if existing == p {
			m.proxies = append(m.proxies[:i], m.proxies[i+1:]...)
			if m.index >= len(m.proxies) {
				m.index = 0
			}
			return true
		}
	}
	return false
}

// Clear empties the pool
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies = nil
	m.index = 0
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}

// List returns a copy of the pool in its current order
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.proxies...)
}

// LoadFromEnv adds HTTP_PROXY and HTTPS_PROXY (either case) when set
func (m *Manager) LoadFromEnv() int {
	added := 0
	for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
		if m.Add(os.Getenv(key)) {
			added++
		}
	}
	return added
}

// LoadFromFile adds one proxy per line. Blank lines and lines starting with # are skipped.
func (m *Manager) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	added := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m.Add(line) {
			added++
		}
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("failed to read proxy file: %w", err)
	}

	m.log.InfoWithFields("Proxies loaded from file", map[string]interface{}{
		"path":  path,
		"added": added,
	})
	return added, nil
}
