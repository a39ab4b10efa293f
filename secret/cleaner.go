package secret

import (
	"sync/atomic"
	"time"

	"github.com/katzenpost/dctransport/internal/worker"
)

// cleanerPeriod is how often the epoch counter advances (spec
// GLOSSARY: "approximately once per minute").
const cleanerPeriod = time.Minute

// cleanerEpoch is the monotonically increasing counter used to
// timestamp retirement (spec §3/§9). It is a plain atomic counter, not
// wall-clock time, so tests can drive it directly without sleeping a
// full period. It starts at 1 because an entry's retiredAtEpoch of 0
// means "not retired", so no retirement may be stamped with epoch 0.
type cleanerEpoch struct {
	n uint64
}

func newCleanerEpoch() *cleanerEpoch {
	return &cleanerEpoch{n: 1}
}

func (e *cleanerEpoch) now() uint64 {
	return atomic.LoadUint64(&e.n)
}

func (e *cleanerEpoch) advance() uint64 {
	return atomic.AddUint64(&e.n, 1)
}

// cleaner periodically advances the epoch and reaps retired,
// unreferenced, past-grace entries (spec §4.2, §9).
type cleaner struct {
	worker.Worker

	store  *Store
	epoch  *cleanerEpoch
	period time.Duration
}

func newCleaner(s *Store, epoch *cleanerEpoch) *cleaner {
	return &cleaner{store: s, epoch: epoch, period: cleanerPeriod}
}

func (c *cleaner) Start() {
	c.Go(c.run)
}

func (c *cleaner) Stop() {
	c.Halt()
	c.Wait()
}

func (c *cleaner) run() {
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-c.HaltCh():
			return
		case <-t.C:
			c.epoch.advance()
			c.store.reapOnce()
		}
	}
}

// Tick is exposed for tests that want to drive the cleaner without
// waiting a full period: it advances the epoch and reaps synchronously.
func (s *Store) Tick() {
	s.epoch.advance()
	s.reapOnce()
}
