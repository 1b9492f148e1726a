package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/depot/internal/logging"
)

// nodeHealth tracks consecutive check failures for one node.
type nodeHealth struct {
	lastHealthy      time.Time
	consecutiveFails int
}

// Monitor periodically checks every registered node that has an address
// and records the outcome in the registry.
//
// A node is set Inactive after maxFailures consecutive failed checks and
// Active again after one successful check. The monitor only ever calls
// Registry.SetStatus, so a node that leaves while being checked is not
// brought back.
type Monitor struct {
	registry    *Registry
	health      map[string]*nodeHealth  // Failure tracking per node id
	httpClient  *http.Client            // HTTP client for health checks
	checkFunc   func(addr string) error // Function to perform health check
	onInactive  func(nodeID string)     // Callback when a node goes inactive
	self        string                  // Node id that is never checked
	stop        chan struct{}           // Closed by Stop
	interval    time.Duration
	mu          sync.Mutex // Protects health and stopped
	wg          sync.WaitGroup
	maxFailures int
	stopped     bool
}

// NewMonitor creates a monitor over registry that checks every interval.
// self names the local node, which is skipped.
//
// Example:
//
//	monitor := NewMonitor(registry, cfg.NodeID, 5*time.Second)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewMonitor(registry *Registry, self string, interval time.Duration) *Monitor {
	return &Monitor{
		registry:    registry,
		self:        self,
		interval:    interval,
		maxFailures: 3,
		health:      make(map[string]*nodeHealth),
		stop:        make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// SetCheckFunction overrides the HTTP check. Call before Start.
func (m *Monitor) SetCheckFunction(checkFunc func(addr string) error) {
	m.checkFunc = checkFunc
}

// SetOnInactive registers a callback invoked once each time a node
// transitions to Inactive. It runs on its own goroutine.
func (m *Monitor) SetOnInactive(callback func(nodeID string)) {
	m.onInactive = callback
}

// Start checks all nodes immediately and then every interval until ctx is
// cancelled or Stop is called. It blocks. A monitor that was already
// stopped returns at once.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	if m.checkFunc == nil {
		m.checkFunc = m.defaultHealthCheck
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logging.Info("membership monitor started", logging.Duration("interval", m.interval))

	m.checkAll()
	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-ctx.Done():
			logging.Info("membership monitor stopping")
			return
		case <-m.stop:
			logging.Info("membership monitor stopping")
			return
		}
	}
}

// Stop ends a running Start and waits for it to return. Stop may be called
// before Start, and more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// checkAll checks every registered peer and forgets nodes that left.
func (m *Monitor) checkAll() {
	current := make(map[string]bool)
	for _, e := range m.registry.Entries() {
		if e.ID == m.self || e.Addr == "" {
			continue
		}
		current[e.ID] = true
		m.checkNode(e)
	}

	m.mu.Lock()
	for id := range m.health {
		if !current[id] {
			delete(m.health, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) checkNode(node NodeEntry) {
	m.mu.Lock()
	state, ok := m.health[node.ID]
	if !ok {
		state = &nodeHealth{lastHealthy: time.Now()}
		m.health[node.ID] = state
	}
	m.mu.Unlock()

	err := m.checkFunc(node.Addr)

	m.mu.Lock()
	if err == nil {
		state.consecutiveFails = 0
		state.lastHealthy = time.Now()
		m.mu.Unlock()

		if node.Status != Active && m.registry.SetStatus(node.ID, Active) {
			logging.Info("node is active", zap.String("node_id", node.ID))
		}
		return
	}

	state.consecutiveFails++
	fails := state.consecutiveFails
	downFor := time.Since(state.lastHealthy)
	m.mu.Unlock()

	logging.Debug("health check failed",
		zap.String("node_id", node.ID),
		zap.Int("attempt", fails),
		zap.Int("max_failures", m.maxFailures),
		zap.Error(err))

	if fails < m.maxFailures || node.Status == Inactive {
		return
	}
	if m.registry.SetStatus(node.ID, Inactive) {
		logging.Warn("node marked inactive",
			zap.String("node_id", node.ID),
			zap.Int("failures", fails),
			logging.Duration("down_for", downFor))
		if m.onInactive != nil {
			go m.onInactive(node.ID)
		}
	}
}

// defaultHealthCheck performs an HTTP GET against the node's /health route.
// addr may be host:port or a full URL.
func (m *Monitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Failures returns the current consecutive failure count for id.
func (m *Monitor) Failures(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.health[id]; ok {
		return s.consecutiveFails
	}
	return 0
}
