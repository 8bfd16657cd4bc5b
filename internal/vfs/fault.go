package vfs

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// FailureProbability is the chance that a single read is failed.
const FailureProbability = 0.5

// RandSource yields uniform values in [0, 1).
// *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	Float64() float64
}

// FaultScope reports whether reads of a virtual path are subject to fault
// injection. A nil scope covers every path.
type FaultScope func(virtualPath string) bool

// FaultInjector decides per read whether to simulate an I/O failure.
// The random source is owned by the injector; draws are serialized so the
// generator state is never shared unsynchronized between goroutines.
type FaultInjector struct {
	mu  sync.Mutex
	src RandSource

	draws    atomic.Uint64
	injected atomic.Uint64
}

// NewFaultInjector creates an injector drawing from src.
func NewFaultInjector(src RandSource) *FaultInjector {
	return &FaultInjector{src: src}
}

// NewTimeSeededFaultInjector creates an injector seeded from the current time.
func NewTimeSeededFaultInjector() *FaultInjector {
	seed := uint64(time.Now().UnixNano())
	return NewFaultInjector(rand.New(rand.NewPCG(seed, seed>>1|1)))
}

// Decide draws once and reports whether the current read should fail.
func (f *FaultInjector) Decide() bool {
	f.mu.Lock()
	v := f.src.Float64()
	f.mu.Unlock()

	f.draws.Add(1)
	if v < FailureProbability {
		f.injected.Add(1)
		return true
	}
	return false
}

// FaultStats counts decisions made by a FaultInjector.
type FaultStats struct {
	Draws    uint64
	Injected uint64
}

// Rate returns the observed injection rate, 0 when nothing was drawn.
func (s FaultStats) Rate() float64 {
	if s.Draws == 0 {
		return 0
	}
	return float64(s.Injected) / float64(s.Draws)
}

// Stats returns a snapshot of the decision counters.
func (f *FaultInjector) Stats() FaultStats {
	return FaultStats{
		Draws:    f.draws.Load(),
		Injected: f.injected.Load(),
	}
}
