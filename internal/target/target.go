// Package target implements the Target model (§3/§4.8): a resolved host
// set paired with a batch policy (absolute size or a ratio of the host
// count) and the deterministic first batch the handlers admit before
// pacing further releases with batch_sleep.
package target

import (
	"math"
	"time"

	"github.com/jross/cumin-go/internal/hostset"
)

// Target is the resolved, batch-policy-annotated host set a Worker drives
// commands against.
type Target struct {
	Hosts      *hostset.HostSet
	BatchSize  int           // 0 means "no batching": the whole host set in one wave
	BatchSleep time.Duration // inter-host pacing within a batch window
	FirstBatch *hostset.HostSet
}

// New builds a Target from an absolute batch size, clamped to |hosts|. A
// batchSize of 0 or less is normalized to |hosts| (no batching).
func New(hosts *hostset.HostSet, batchSize int, batchSleep time.Duration) Target {
	n := hosts.Len()
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}
	return Target{
		Hosts:      hosts,
		BatchSize:  batchSize,
		BatchSleep: batchSleep,
		FirstBatch: firstN(hosts, batchSize),
	}
}

// NewRatio builds a Target whose batch size is derived from ratio of
// |hosts|, rounded up and floored at 1 (§4.8: max(1, ceil(|hosts| * ratio))).
func NewRatio(hosts *hostset.HostSet, ratio float64, batchSleep time.Duration) Target {
	n := hosts.Len()
	size := int(math.Ceil(float64(n) * ratio))
	if size < 1 {
		size = 1
	}
	if size > n {
		size = n
	}
	return Target{
		Hosts:      hosts,
		BatchSize:  size,
		BatchSleep: batchSleep,
		FirstBatch: firstN(hosts, size),
	}
}

// firstN returns a deterministic (lexically-sorted) slice of n hosts from
// hosts, satisfying the FirstBatch ⊆ Hosts invariant. Iteration order
// beyond "stable within one process run" is not part of the contract.
func firstN(hosts *hostset.HostSet, n int) *hostset.HostSet {
	sorted := hosts.Slice()
	if n > len(sorted) {
		n = len(sorted)
	}
	return hostset.New(sorted[:n]...)
}
