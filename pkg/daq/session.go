package daq

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevices indicates the port inventory came back empty.
	ErrNoDevices = errors.New("no devices detected")
	// ErrDeviceNotFound indicates no detected port matched the requested device.
	ErrDeviceNotFound = errors.New("device not found")
)

// Session describes the geometry of one background analog-input scan.
// It is fixed once the scan starts and must outlive the acquisition loop.
type Session struct {
	RingCapacity int     // Total sample slots in the hardware ring buffer
	ChunkSize    int     // Samples transferred per drain step
	Channels     int     // Number of interleaved channels
	SampleRate   float64 // Per-channel sample rate (Hz)
}

// NewSession sizes the ring buffer for a scan of the given rate and duration.
// The ring holds rate*duration points per channel (at least 10), and the
// transfer chunk is a tenth of the ring.
func NewSession(rateHz, durationSec float64, channels int) (Session, error) {
	if rateHz <= 0 {
		return Session{}, fmt.Errorf("invalid sample rate %v", rateHz)
	}
	if channels < 1 {
		return Session{}, fmt.Errorf("invalid channel count %d", channels)
	}

	perChannel := int(rateHz * durationSec)
	if perChannel < 10 {
		perChannel = 10
	}
	capacity := perChannel * channels
	chunk := capacity / 10
	if chunk < 1 {
		chunk = 1
	}

	return Session{
		RingCapacity: capacity,
		ChunkSize:    chunk,
		Channels:     channels,
		SampleRate:   rateHz,
	}, nil
}

// Status is a snapshot of scan progress as reported by the device.
type Status struct {
	Running  bool   // false while the scan is idle
	Produced uint64 // Total samples written since scan start (monotonic)
}

// Controller is the scan-control boundary for DAQ devices (real or simulated).
// The acquisition loop queries Status at least once per iteration and calls
// StopScan/ReleaseBuffer exactly once on exit, fault paths included.
type Controller interface {
	Connect() error
	Close() error
	StartScan(s Session) error
	Status() (Status, error)
	// ReadBuffer copies len(dst) samples out of the hardware ring buffer
	// starting at offset. The requested range never wraps; the caller splits
	// wrap-around reads into two calls.
	ReadBuffer(dst []float64, offset int) error
	StopScan() error
	ReleaseBuffer() error
}

// Ensure both controller implementations satisfy the interface.
var _ Controller = (*Serial)(nil)
var _ Controller = (*Sim)(nil)
