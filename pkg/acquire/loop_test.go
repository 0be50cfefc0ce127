package acquire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/aiscan/pkg/daq"
)

// scriptedController replays a fixed sequence of status snapshots, one per
// Status call (the last repeats), on top of a value-identified ring buffer.
// Note the drain step queries status once per poll and once more after every
// copy, so scripts must account for both reads.
type scriptedController struct {
	statuses []daq.Status
	i        int

	ring     []float64
	started  int
	stopped  int
	released int
}

func newScriptedController(capacity int, statuses ...daq.Status) *scriptedController {
	ring := make([]float64, capacity)
	for i := range ring {
		ring[i] = float64(i)
	}
	return &scriptedController{statuses: statuses, ring: ring}
}

func (c *scriptedController) Connect() error { return nil }
func (c *scriptedController) Close() error   { return nil }

func (c *scriptedController) StartScan(s daq.Session) error {
	c.started++
	return nil
}

func (c *scriptedController) Status() (daq.Status, error) {
	st := c.statuses[c.i]
	if c.i < len(c.statuses)-1 {
		c.i++
	}
	return st, nil
}

func (c *scriptedController) ReadBuffer(dst []float64, offset int) error {
	copy(dst, c.ring[offset:offset+len(dst)])
	return nil
}

func (c *scriptedController) StopScan() error {
	c.stopped++
	return nil
}

func (c *scriptedController) ReleaseBuffer() error {
	c.released++
	return nil
}

func testSession() daq.Session {
	return daq.Session{
		RingCapacity: 100,
		ChunkSize:    10,
		Channels:     2,
		SampleRate:   1000,
	}
}

func TestLoop_DrainsToTarget(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: false, Produced: 0}, // still idle
		daq.Status{Running: true, Produced: 0},  // scan started
		daq.Status{Running: true, Produced: 12}, // poll: first chunk
		daq.Status{Running: true, Produced: 12}, // post-copy recheck
		daq.Status{Running: true, Produced: 25}, // poll: second chunk
		daq.Status{Running: true, Produced: 25}, // post-copy recheck
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval:  time.Millisecond,
		StartTimeout:  time.Second,
		TargetSamples: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, Starting, loop.State())

	series, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stopped, loop.State())
	assert.Equal(t, uint64(20), loop.Consumed())
	assert.Equal(t, 1, ctrl.started)
	assert.Equal(t, 1, ctrl.stopped, "StopScan must be called exactly once")
	assert.Equal(t, 1, ctrl.released, "ReleaseBuffer must be called exactly once")

	require.Len(t, series, 2)
	assert.Len(t, series[0], 10)
	assert.Len(t, series[1], 10)
	// Interleaved ring slots 0..19 split even/odd across the two channels.
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, series[0])
	assert.Equal(t, []float64{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}, series[1])
}

func TestLoop_OverrunFaults(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: true, Produced: 0},
		daq.Status{Running: true, Produced: 250}, // producer lapped the ring
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval: time.Millisecond,
		StartTimeout: time.Second,
	})
	require.NoError(t, err)

	series, err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrOverrun)
	assert.Equal(t, Faulted, loop.State())
	assert.NotNil(t, series, "Partial data must still be returned after a fault")
	assert.Equal(t, 1, ctrl.stopped, "The scan must be shut down on the fault path")
	assert.Equal(t, 1, ctrl.released, "The buffer must be released on the fault path")
}

func TestLoop_OverrunDuringCopyFaults(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: true, Produced: 0},
		daq.Status{Running: true, Produced: 12},  // poll: chunk available
		daq.Status{Running: true, Produced: 150}, // recheck: lapped mid-copy
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval: time.Millisecond,
		StartTimeout: time.Second,
	})
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrOverrun)
	assert.Equal(t, Faulted, loop.State())
	assert.Equal(t, uint64(0), loop.Consumed(), "The possibly corrupt chunk must be discarded")
	assert.Equal(t, 1, ctrl.stopped)
	assert.Equal(t, 1, ctrl.released)
}

func TestLoop_StopSignal(t *testing.T) {
	// Never enough for a chunk: the loop keeps backing off until the stop
	// signal is observed between iterations.
	ctrl := newScriptedController(100,
		daq.Status{Running: true, Produced: 5},
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval: time.Millisecond,
		StartTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	done := make(chan struct{})
	var series [][]float64
	var runErr error
	go func() {
		defer close(done)
		series, runErr = loop.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not observe the stop signal within timeout")
	}

	require.NoError(t, runErr)
	assert.Equal(t, Stopped, loop.State())
	assert.Len(t, series, 2)
	assert.Equal(t, 1, ctrl.stopped)
	assert.Equal(t, 1, ctrl.released)
}

func TestLoop_ScanGoesIdle(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: true, Produced: 0},
		daq.Status{Running: true, Produced: 12},
		daq.Status{Running: true, Produced: 12},
		daq.Status{Running: false, Produced: 15}, // scan finished on its own
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval: time.Millisecond,
		StartTimeout: time.Second,
	})
	require.NoError(t, err)

	series, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, loop.State())
	assert.Equal(t, uint64(10), loop.Consumed())
	assert.Len(t, series[0], 5)
	assert.Len(t, series[1], 5)
}

func TestLoop_StartTimeout(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: false, Produced: 0},
	)

	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval: time.Millisecond,
		StartTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Equal(t, Faulted, loop.State())
	assert.Equal(t, 1, ctrl.stopped, "A failed start must still shut the scan down")
	assert.Equal(t, 1, ctrl.released)
}

func TestLoop_OnChunkProgress(t *testing.T) {
	ctrl := newScriptedController(100,
		daq.Status{Running: true, Produced: 20},
		daq.Status{Running: true, Produced: 20},
		daq.Status{Running: true, Produced: 20},
	)

	var progress []uint64
	loop, err := NewLoop(ctrl, testSession(), Options{
		PollInterval:  time.Millisecond,
		StartTimeout:  time.Second,
		TargetSamples: 20,
		OnChunk: func(consumed uint64) {
			progress = append(progress, consumed)
		},
	})
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, progress)
}
