// Package acquire drains a hardware-managed circular sample buffer that a
// background analog-input scan overwrites continuously. The reader copies
// fixed-size chunks out of the ring, splitting across the wrap boundary,
// and detects overrun races both before and after each copy; the
// demultiplexer reassembles the interleaved stream into per-channel series.
package acquire

import (
	"errors"
	"fmt"
)

// ErrOverrun indicates the producer advanced more than one full ring
// capacity past the last drain point: unread samples were overwritten (or
// overwritten mid-copy), so their contents are unknown. The session must be
// terminated; draining never resumes after an overrun.
var ErrOverrun = errors.New("buffer overrun")

// BufferReader copies samples out of the hardware-visible ring buffer.
// Requested ranges never wrap; the Reader splits wrap-around copies itself.
type BufferReader interface {
	ReadBuffer(dst []float64, offset int) error
}

// ProgressFunc reports the total samples the producer has written since
// scan start. The counter is monotonic and never wraps.
type ProgressFunc func() (uint64, error)

// Reader extracts fixed-size chunks from a ring buffer whose producer runs
// concurrently. It owns the drain cursors exclusively: consumed counts total
// samples drained since scan start, and readOffset is always
// consumed mod capacity.
type Reader struct {
	capacity int
	chunk    int
	buf      BufferReader
	progress ProgressFunc

	consumed   uint64
	readOffset int
	staging    []float64
}

// NewReader creates a reader draining chunk-sized transfers from a ring of
// the given capacity. progress is re-queried after each copy to close the
// race window between deciding to copy and finishing the copy.
func NewReader(capacity, chunk int, buf BufferReader, progress ProgressFunc) (*Reader, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("invalid ring capacity %d", capacity)
	}
	if chunk < 1 || chunk > capacity {
		return nil, fmt.Errorf("invalid chunk size %d for ring capacity %d", chunk, capacity)
	}
	if buf == nil {
		return nil, fmt.Errorf("nil buffer reader")
	}
	if progress == nil {
		return nil, fmt.Errorf("nil progress func")
	}

	return &Reader{
		capacity: capacity,
		chunk:    chunk,
		buf:      buf,
		progress: progress,
		staging:  make([]float64, chunk),
	}, nil
}

// TryDrain attempts to copy one chunk out of the ring given the producer's
// current total sample count. It returns (nil, nil) when less than a full
// chunk is available; the caller should back off and retry with a fresh
// count. On success it returns the staging buffer, which is valid until the
// next call. An ErrOverrun return is fatal for the session and leaves the
// cursors unchanged.
func (r *Reader) TryDrain(produced uint64) ([]float64, error) {
	available := produced - r.consumed

	// The producer lapped the read cursor: unread slots were overwritten.
	if available > uint64(r.capacity) {
		return nil, fmt.Errorf("%w: %d unread samples exceed ring capacity %d", ErrOverrun, available, r.capacity)
	}

	if available < uint64(r.chunk) {
		return nil, nil
	}

	if r.readOffset+r.chunk <= r.capacity {
		if err := r.buf.ReadBuffer(r.staging, r.readOffset); err != nil {
			return nil, fmt.Errorf("failed to read ring buffer: %w", err)
		}
	} else {
		// The chunk wraps: copy the tail of the ring, then the head, so
		// sample order is preserved across the seam.
		first := r.capacity - r.readOffset
		if err := r.buf.ReadBuffer(r.staging[:first], r.readOffset); err != nil {
			return nil, fmt.Errorf("failed to read ring buffer: %w", err)
		}
		if err := r.buf.ReadBuffer(r.staging[first:], 0); err != nil {
			return nil, fmt.Errorf("failed to read ring buffer: %w", err)
		}
	}

	// Re-check with a fresh count: if the producer lapped the read cursor
	// while we were copying, the chunk we just copied may be corrupt. The
	// delta baseline is the consumed count, not the stale pre-copy count, so
	// an overrun that straddles the copy cannot slip through.
	fresh, err := r.progress()
	if err != nil {
		return nil, fmt.Errorf("failed to re-query scan progress: %w", err)
	}
	if fresh-r.consumed > uint64(r.capacity) {
		return nil, fmt.Errorf("%w: producer advanced %d samples past the read cursor during copy", ErrOverrun, fresh-r.consumed)
	}

	r.consumed += uint64(r.chunk)
	r.readOffset = int(r.consumed % uint64(r.capacity))

	return r.staging, nil
}

// Consumed returns the total samples drained since scan start.
func (r *Reader) Consumed() uint64 {
	return r.consumed
}

// ReadOffset returns the current position of the read cursor within the ring.
func (r *Reader) ReadOffset() int {
	return r.readOffset
}
