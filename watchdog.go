package quickjs

import (
	"runtime/metrics"
	"time"

	"go.uber.org/zap"
)

const watchdogInterval = 5 * time.Millisecond

// live heap as of the last completed GC cycle
const heapLiveMetric = "/gc/heap/live:bytes"

// startWatchdog polls the execute timeout, the interrupt handler and the memory limit while a
// script runs and interrupts ev when one of them trips. The returned function stops it.
//
// Script engines allocate on the Go heap, outside the runtime allocator, so the memory limit
// is checked against the growth of the live Go heap since the script started.
func (r *Runtime) startWatchdog(ev Evaluator) func() {
	var deadline time.Time
	if r.options.timeout > 0 {
		deadline = time.Now().Add(time.Duration(r.options.timeout) * time.Second)
	}
	limit := r.malloc.MallocLimit
	if deadline.IsZero() && limit <= 0 && r.interrupt.Load() == nil {
		return func() {}
	}

	sample := []metrics.Sample{{Name: heapLiveMetric}}
	heapBytes := func() uint64 {
		metrics.Read(sample)
		if sample[0].Value.Kind() != metrics.KindUint64 {
			return 0
		}
		return sample[0].Value.Uint64()
	}
	base := heapBytes()
	logger := r.logger

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			if r.shouldInterrupt(deadline) {
				logger.Warn("script interrupted")
				ev.Interrupt(ErrInterrupted)
				return
			}
			if limit > 0 {
				if used := heapBytes(); used > base && int64(used-base) > limit {
					logger.Warn("script exceeded the memory limit", zap.Uint64("heap", used-base), zap.Int64("limit", limit))
					ev.Interrupt(ErrOutOfMemory)
					return
				}
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
