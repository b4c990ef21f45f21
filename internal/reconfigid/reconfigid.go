// Package reconfigid issues the monotonic reconfigId the coordinator stamps
// on every reconfig-point (§4.5 step 1), so that retries after an aborted
// round always carry a strictly increasing identifier (§8 plan monotonicity).
//
// It reuses the stable-ID claimer's style of atomic NATS KV operations, but
// swaps the claimer's Create-based unique-slot claim for an Update-based CAS
// loop: a reconfigId is a shared counter, not a per-worker slot, so every
// caller contends on the same key rather than scanning a pool.
package reconfigid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spacker/types"
)

// ErrClosed is returned once the issuer has been closed.
var ErrClosed = errors.New("reconfigid: issuer closed")

const counterKey = "reconfig-id-counter"

// Issuer hands out strictly increasing reconfigIds backed by a NATS KV
// bucket (only the Spacker constructed with WithBarrierInjector creates an
// Issuer, but the CAS loop below stays correct if several coordinators
// contend on the same key).
type Issuer struct {
	kv     jetstream.KeyValue
	logger types.Logger
	closed bool
}

// New creates an Issuer backed by kv.
func New(kv jetstream.KeyValue, logger types.Logger) *Issuer {
	return &Issuer{kv: kv, logger: logger}
}

// Next returns the next reconfigId, starting at 1.
func (i *Issuer) Next(ctx context.Context) (int64, error) {
	if i.closed {
		return 0, ErrClosed
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		entry, err := i.kv.Get(ctx, counterKey)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			_, createErr := i.kv.Create(ctx, counterKey, encodeCounter(1))
			if createErr == nil {
				return 1, nil
			}
			if errors.Is(createErr, jetstream.ErrKeyExists) {
				continue // lost the race to create; retry the read path
			}

			return 0, fmt.Errorf("reconfigid: create counter: %w", createErr)
		case err != nil:
			return 0, fmt.Errorf("reconfigid: get counter: %w", err)
		}

		current := decodeCounter(entry.Value())
		next := current + 1

		_, err = i.kv.Update(ctx, counterKey, encodeCounter(next), entry.Revision())
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return 0, fmt.Errorf("reconfigid: update counter: %w", err)
		}
		if i.logger != nil {
			i.logger.Debug("reconfigid CAS lost race, retrying", "attempted", next)
		}
	}
}

// Close marks the issuer unusable; the underlying KV bucket outlives it.
func (i *Issuer) Close() error {
	i.closed = true

	return nil
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))

	return buf
}

func decodeCounter(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}

	return int64(binary.LittleEndian.Uint64(b))
}
