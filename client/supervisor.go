package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/types"
)

// State of the live channel as seen by the supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLive
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateError:
		return "error"
	}
	return "unknown"
}

// StreamOpener opens the live event stream; RoomAPI implements it.
type StreamOpener interface {
	OpenEvents(ctx context.Context) (io.ReadCloser, error)
}

// Supervisor owns the live channel lifecycle: connect, forward pushed batches
// into the engine, watch for inactivity, reconnect after a fixed delay. It
// never gives up while its context is alive; cancelling the context is the
// clean teardown and is safe to do at any time, any number of times.
type Supervisor struct {
	engine         *Engine
	opener         StreamOpener
	reconnectDelay time.Duration
	watchdog       time.Duration

	mu    sync.Mutex
	state State
}

// NewSupervisor builds a supervisor. The watchdog should be a generous
// multiple of the hub tick: no message and no heartbeat for that long means
// the stream is dead even if the transport has not noticed.
func NewSupervisor(engine *Engine, opener StreamOpener, reconnectDelay, watchdog time.Duration) *Supervisor {
	return &Supervisor{
		engine:         engine,
		opener:         opener,
		reconnectDelay: reconnectDelay,
		watchdog:       watchdog,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsLive() bool {
	return s.State() == StateLive
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	if s.state != state {
		globals.AppLogger.Debug("live channel state", "from", s.state.String(), "to", state.String())
		s.state = state
	}
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled, reconnecting with a fixed delay and
// unbounded retries.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.setState(StateDisconnected)
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		stream, err := s.opener.OpenEvents(ctx)
		if err != nil {
			globals.AppLogger.Warn("could not open live channel", "error", err)
			s.setState(StateError)
			if !sleepCtx(ctx, s.reconnectDelay) {
				return
			}
			continue
		}
		s.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		s.setState(StateError)
		if !sleepCtx(ctx, s.reconnectDelay) {
			return
		}
	}
}

// consume reads events until the stream ends, the watchdog expires or the
// context is cancelled. Any event resets the watchdog; heartbeats exist for
// exactly that purpose and are otherwise ignored.
func (s *Supervisor) consume(ctx context.Context, stream io.ReadCloser) {
	events := make(chan *types.WireEvent, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(stream)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			ev := &types.WireEvent{}
			if err := json.Unmarshal([]byte(line[len("data: "):]), ev); err != nil {
				globals.AppLogger.Warn("could not parse event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	watchdog := time.NewTimer(s.watchdog)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			return

		case <-watchdog.C:
			globals.AppLogger.Warn("live channel inactivity watchdog expired")
			return

		case ev, ok := <-events:
			if !ok {
				globals.AppLogger.Warn("live channel closed by peer")
				return
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(s.watchdog)
			switch ev.Type {
			case types.WireEventTypeConnected:
				s.setState(StateLive)
			case types.WireEventTypeMessages:
				s.engine.MergeIncoming(ev.Messages)
			case types.WireEventTypeHeartbeat:
				// watchdog reset is all a heartbeat is for
			}
		}
	}
}

// sleepCtx waits d, false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
