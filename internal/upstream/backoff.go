package upstream

import (
	"math/rand"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// backoffJitter is the ±fraction applied to each delay in next; wait.Backoff's
// own Jitter only ever lengthens a delay, so it is not used.
const backoffJitter = 0.2

// newBackoff returns the exponential backoff spec §4.C3 mandates: base 1s,
// factor 2, cap 60s; next adds the ±20% jitter. Grounded on the teacher's
// broker.ConfigureBackOff, which wraps the same wait.Backoff type but with
// env-tunable (and much larger) defaults; the hub's values are fixed per
// spec rather than operator-configurable.
func newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Steps:    1000000, // effectively unbounded; capped below by Cap
		Cap:      60 * time.Second,
	}
}

// backoffState tracks one upstream's retry counter and next-retry deadline,
// reset on every successful transition to ready.
type backoffState struct {
	backoff  wait.Backoff
	failures int
}

func newBackoffState() *backoffState {
	return &backoffState{backoff: newBackoff()}
}

// next returns the delay to wait before the next connect attempt and
// advances the internal step counter.
func (b *backoffState) next() time.Duration {
	b.failures++
	d := b.backoff.Step()
	return time.Duration(float64(d) * (1 + backoffJitter*(2*rand.Float64()-1)))
}

// reset clears the failure counter and backoff step after a successful
// connection, per spec §4.C3 "the counter resets on each successful ready".
func (b *backoffState) reset() {
	b.failures = 0
	b.backoff = newBackoff()
}

func (b *backoffState) consecutiveFailures() int {
	return b.failures
}
