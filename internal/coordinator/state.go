// Package coordinator drives a single lock connection end to end:
// certificate and signed-time refresh, BLE transport connect, PTLS
// handshake (including the alert-triggered retry-once paths), command
// serialization, the notification/keep-alive loop, reconnect backoff,
// and polling fallback.
package coordinator

import (
	"sync"
	"time"

	"github.com/smartlock-go/ptlslock/internal/lockproto"
)

// State is the coordinator's observable snapshot of the lock, updated
// from command responses and notifications alike.
type State struct {
	LockState      lockproto.LockState
	Status         lockproto.Status
	DoorState      lockproto.DoorState
	BatteryPercent int
	BatteryCharging bool
	Available      bool
	LastTrigger    lockproto.Trigger
	LastUser       string
	UpdatedAt      time.Time
}

// Jammed reports whether the last reported status was a jam.
func (s State) Jammed() bool { return s.Status.Jammed() }

// stateBroker holds the current State and fans out changes to
// subscribers without blocking the coordinator's own goroutines: each
// subscriber gets a buffered channel and a slow reader simply misses
// intermediate snapshots rather than stalling the producer.
type stateBroker struct {
	mu          sync.RWMutex
	current     State
	subscribers []chan State
}

func newStateBroker(initial State) *stateBroker {
	return &stateBroker{current: initial}
}

func (b *stateBroker) get() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func (b *stateBroker) set(s State) {
	b.mu.Lock()
	b.current = s
	subs := append([]chan State{}, b.subscribers...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (b *stateBroker) subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subscribers {
			if c == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}
