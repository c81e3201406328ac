package bulk

import (
	"runtime"
	"runtime/debug"
	"time"
)

// Pressure is the governor's verdict for the next batch boundary.
type Pressure struct {
	Paused      bool
	ResumeAfter time.Duration
	HeapBytes   uint64
}

// Governor watches process memory between batches. Crossing the high-water
// mark triggers a reclamation pass and an extra pause before the next batch.
// It is never consulted mid-batch.
type Governor struct {
	HighWaterBytes uint64
	Pause          time.Duration

	readMemStats func(*runtime.MemStats) // test seam
	freeMemory   func()
}

func NewGovernor(highWaterMB uint64, pause time.Duration) *Governor {
	return &Governor{
		HighWaterBytes: highWaterMB * 1024 * 1024,
		Pause:          pause,
		readMemStats:   runtime.ReadMemStats,
		freeMemory:     debug.FreeOSMemory,
	}
}

func (g *Governor) CheckPressure() Pressure {
	var ms runtime.MemStats
	g.readMemStats(&ms)
	if g.HighWaterBytes == 0 || ms.HeapAlloc < g.HighWaterBytes {
		return Pressure{HeapBytes: ms.HeapAlloc}
	}
	g.freeMemory()
	return Pressure{Paused: true, ResumeAfter: g.Pause, HeapBytes: ms.HeapAlloc}
}
