// Package liveness publishes and watches per-task beacons that show whether
// a task is still running.
//
// Adapted from the heartbeat publisher's ticker-driven periodic KV Put plus
// graceful delete-on-stop pattern, renamed to the migration domain: Spacker
// publishes its task's beacon from Start until Stop. Watcher reports whether
// a beacon is present; the coordinator package does not read beacons, so a
// missing beacon neither aborts nor times out a round.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spacker/types"
)

// Errors returned by Beacon.
var (
	ErrNotStarted     = errors.New("liveness: beacon not started")
	ErrAlreadyStarted = errors.New("liveness: beacon already started")
)

// Beacon publishes a periodic liveness marker for one task into a NATS KV
// bucket configured with a TTL; a missing key means the task is presumed
// dead.
type Beacon struct {
	kv     jetstream.KeyValue
	taskID string
	period time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Beacon for taskID, publishing every period.
func New(kv jetstream.KeyValue, taskID string, period time.Duration) *Beacon {
	return &Beacon{kv: kv, taskID: taskID, period: period}
}

// Start publishes an initial beacon then continues on a ticker until Stop.
func (b *Beacon) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	if err := b.publish(ctx); err != nil {
		return fmt.Errorf("liveness: initial publish for %s: %w", b.taskID, err)
	}

	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.started = true

	go b.loop()

	return nil
}

// Stop halts publishing and deletes the beacon so watchers see the task
// leave immediately rather than waiting out the TTL.
func (b *Beacon) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()

		return ErrNotStarted
	}
	close(b.stopCh)
	b.started = false
	b.mu.Unlock()

	<-b.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.kv.Delete(ctx, b.key()); err != nil {
		return fmt.Errorf("liveness: delete beacon for %s: %w", b.taskID, err)
	}

	return nil
}

func (b *Beacon) loop() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), b.period)
			_ = b.publish(ctx)
			cancel()
		}
	}
}

func (b *Beacon) publish(ctx context.Context) error {
	_, err := b.kv.Put(ctx, b.key(), []byte(time.Now().UTC().Format(time.RFC3339Nano)))

	return err
}

func (b *Beacon) key() string { return "task." + b.taskID }

// Watcher reports whether a task's beacon is currently present.
type Watcher struct {
	kv jetstream.KeyValue
}

// NewWatcher creates a Watcher reading from the same KV bucket a Beacon publishes to.
func NewWatcher(kv jetstream.KeyValue) *Watcher {
	return &Watcher{kv: kv}
}

// Alive reports whether taskID's beacon is present and unexpired.
func (w *Watcher) Alive(ctx context.Context, taskID string) (bool, error) {
	_, err := w.kv.Get(ctx, "task."+taskID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("liveness: get beacon for %s: %w", taskID, err)
	}

	return true, nil
}

// WaitAlive polls taskID's beacon until it is observed alive or timeout
// elapses without it ever appearing, returning types.ErrTransferTimeout in
// the latter case.
func (w *Watcher) WaitAlive(ctx context.Context, taskID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(timeout / 10)
	defer ticker.Stop()

	for {
		alive, err := w.Alive(ctx, taskID)
		if err != nil {
			return err
		}
		if alive {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: task %s", types.ErrTransferTimeout, taskID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
