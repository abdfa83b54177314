package realtime

import (
	"context"
	"time"
)

// HeartbeatMonitor is the only liveness check: idle connections are
// evicted, the rest are pinged.
type HeartbeatMonitor struct {
	registry *Registry
	typing   *TypingCoordinator
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   Logger
}

func NewHeartbeatMonitor(registry *Registry, typing *TypingCoordinator, interval, timeout time.Duration, logger Logger, now func() time.Time) *HeartbeatMonitor {
	if logger == nil {
		logger = nopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &HeartbeatMonitor{
		registry: registry,
		typing:   typing,
		interval: interval,
		timeout:  timeout,
		now:      now,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat pass and returns the number of evicted connections.
func (h *HeartbeatMonitor) Tick(ctx context.Context) int {
	now := h.now()
	ping := mustFrame(TypePing, nil)
	evicted := 0

	for _, conn := range h.registry.Snapshot() {
		if idle := conn.idleFor(now); idle > h.timeout {
			h.logger.Info("Connection timed out", "user_id", conn.userID, "connection_id", conn.id, "idle", idle.String())
			if h.registry.Evict(ctx, conn, ReasonTimeout) {
				evicted++
			}
			continue
		}
		_ = h.registry.deliver(conn, ping)
	}

	if h.typing != nil {
		h.typing.Sweep(ctx)
	}
	return evicted
}
