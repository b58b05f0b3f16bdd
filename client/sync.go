package client

import (
	"context"
	"sync"
	"time"

	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/globals"
)

// Timings derives the client-side timing contract from the shared
// configuration: the poll fallback ticks at the hub tick, and the inactivity
// watchdog spans a configured number of hub ticks, so a stream that misses
// that many consecutive pushes and heartbeats is declared dead.
func Timings(cfg *config.Config) (reconnectDelay, watchdog, pollInterval time.Duration) {
	reconnectDelay = cfg.SyncConfig.ReconnectDelay
	pollInterval = cfg.SyncConfig.HubTick
	watchdog = time.Duration(cfg.SyncConfig.WatchdogTicks) * cfg.SyncConfig.HubTick
	return reconnectDelay, watchdog, pollInterval
}

// Poller is the fallback pull loop. It keeps ticking while the live channel
// is down and stays quiet while it is up; both may be active for a moment
// during a transition, which is safe because both routes end in the engine's
// single merge point.
type Poller struct {
	engine   *Engine
	interval time.Duration
	live     func() bool
}

func NewPoller(engine *Engine, interval time.Duration, live func() bool) *Poller {
	return &Poller{engine: engine, interval: interval, live: live}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if p.live != nil && p.live() {
				continue
			}
			if err := p.engine.PollOnce(ctx); err != nil && ctx.Err() == nil {
				globals.AppLogger.Warn("poll failed", "error", err)
			}
		}
	}
}

// RoomSync bundles the engine, the supervisor and the poll fallback for one
// open room. Close tears all three down: it cancels the pending reconnect,
// closes the live channel (which unsubscribes it from the hub) and stops the
// poll timer. Close is idempotent.
type RoomSync struct {
	Engine *Engine

	supervisor *Supervisor
	cancel     context.CancelFunc
	once       sync.Once
	wg         sync.WaitGroup
}

// StartRoomSync performs the cold start (full load from the store, cache
// backfill) and only then starts push and poll.
func StartRoomSync(ctx context.Context, engine *Engine, opener StreamOpener, reconnectDelay, watchdog, pollInterval time.Duration) (*RoomSync, error) {
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	supervisor := NewSupervisor(engine, opener, reconnectDelay, watchdog)
	poller := NewPoller(engine, pollInterval, supervisor.IsLive)
	rs := &RoomSync{
		Engine:     engine,
		supervisor: supervisor,
		cancel:     cancel,
	}
	rs.wg.Add(2)
	go func() {
		defer rs.wg.Done()
		supervisor.Run(runCtx)
	}()
	go func() {
		defer rs.wg.Done()
		poller.Run(runCtx)
	}()
	return rs, nil
}

func (rs *RoomSync) State() State {
	return rs.supervisor.State()
}

func (rs *RoomSync) Close() {
	rs.once.Do(func() {
		rs.cancel()
		rs.wg.Wait()
	})
}
