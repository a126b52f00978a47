package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-monolith/mono"
)

// DefaultInterval is how often expired messages are purged.
const DefaultInterval = 60 * time.Second

// SweeperModule runs the Sweeper on a fixed interval.
type SweeperModule struct {
	sweeper  *Sweeper
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	lastRun     time.Time
	lastErr     error
	totalPurged int64
	runs        int64
}

// Compile-time interface checks
var (
	_ mono.Module                = (*SweeperModule)(nil)
	_ mono.HealthCheckableModule = (*SweeperModule)(nil)
)

// NewModule creates the sweeper module. A non-positive interval falls back
// to DefaultInterval.
func NewModule(sweeper *Sweeper, interval time.Duration) *SweeperModule {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SweeperModule{sweeper: sweeper, interval: interval}
}

// Name returns the module name.
func (m *SweeperModule) Name() string {
	return "sweeper"
}

// Start launches the purge loop. The first purge runs one interval after start.
func (m *SweeperModule) Start(_ context.Context) error {
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})

	go m.run()

	log.Printf("[sweeper] Started (interval %s)", m.interval)
	return nil
}

func (m *SweeperModule) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.doneChan)

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *SweeperModule) tick() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abort an in-flight purge on shutdown.
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := m.sweeper.SweepOnce(ctx)
	if err != nil {
		log.Printf("[sweeper] Sweep failed: %v", err)
	}

	m.mu.Lock()
	m.lastRun = time.Now()
	m.lastErr = err
	m.totalPurged += n
	m.runs++
	m.mu.Unlock()
}

// Stop halts the loop and waits for an in-flight purge to finish.
func (m *SweeperModule) Stop(ctx context.Context) error {
	if m.stopChan == nil {
		return nil
	}

	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	select {
	case <-m.doneChan:
		log.Println("[sweeper] Stopped")
	case <-ctx.Done():
		log.Println("[sweeper] Shutdown timeout exceeded")
		return ctx.Err()
	}
	return nil
}

// Health reports the outcome of the last purge. A failed purge does not make
// the module unhealthy; the next tick retries it.
func (m *SweeperModule) Health(_ context.Context) mono.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	details := map[string]any{
		"interval":     m.interval.String(),
		"runs":         m.runs,
		"total_purged": m.totalPurged,
	}
	if !m.lastRun.IsZero() {
		details["last_run"] = m.lastRun.UTC().Format(time.RFC3339)
	}
	if m.lastErr != nil {
		details["last_error"] = m.lastErr.Error()
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}
