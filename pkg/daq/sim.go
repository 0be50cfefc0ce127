package daq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/seglab/aiscan/pkg/config"
)

// simTickInterval is how often the simulated producer writes a batch of
// samples into the ring.
const simTickInterval = 5 * time.Millisecond

// Sim simulates a DAQ box for testing and development. A background
// goroutine plays the role of the hardware: it continuously writes
// interleaved per-channel sine samples into a ring buffer and advances the
// produced counter, wrapping and overwriting exactly like the real scan.
type Sim struct {
	cfg *config.SimConfig

	mu        sync.Mutex
	connected bool
	running   bool
	session   Session
	ring      []float64
	produced  uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSim creates a new simulated controller.
func NewSim(cfg *config.SimConfig) *Sim {
	if cfg == nil {
		cfg = &config.SimConfig{
			Amplitude:      1.0,
			NoiseLevel:     0.001,
			SignalHz:       50,
			RateMultiplier: 1.0,
		}
	}

	return &Sim{
		cfg: cfg,
	}
}

// Connect simulates connecting to the device.
func (m *Sim) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Close stops the simulated device.
func (m *Sim) Close() error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if running {
		if err := m.StopScan(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Sim) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// StartScan allocates the ring buffer and starts the background producer.
func (m *Sim) StartScan(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	if m.running {
		return fmt.Errorf("scan already running")
	}
	if s.RingCapacity <= 0 || s.Channels < 1 {
		return fmt.Errorf("failed to allocate ring buffer: invalid geometry %+v", s)
	}

	m.session = s
	m.ring = make([]float64, s.RingCapacity)
	m.produced = 0
	m.running = true

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})
	go m.produce()

	return nil
}

// Status reports scan progress.
func (m *Sim) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return Status{}, fmt.Errorf("not connected")
	}
	return Status{Running: m.running, Produced: m.produced}, nil
}

// ReadBuffer copies len(dst) samples starting at offset out of the ring.
// The range must not wrap.
func (m *Sim) ReadBuffer(dst []float64, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ring == nil {
		return fmt.Errorf("ring buffer not allocated")
	}
	if offset < 0 || offset+len(dst) > len(m.ring) {
		return fmt.Errorf("read [%d:%d) out of ring bounds %d", offset, offset+len(dst), len(m.ring))
	}

	copy(dst, m.ring[offset:offset+len(dst)])
	return nil
}

// StopScan halts the background producer.
func (m *Sim) StopScan() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// ReleaseBuffer frees the simulated ring buffer.
func (m *Sim) ReleaseBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cannot release buffer while scan is running")
	}
	m.ring = nil
	return nil
}

// produce writes sample batches into the ring until the scan is stopped.
func (m *Sim) produce() {
	defer close(m.done)

	ticker := time.NewTicker(simTickInterval)
	defer ticker.Stop()

	last := time.Now()
	var carry float64

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			// Number of interleaved samples this tick, fractional part
			// carried over so the long-run rate is exact.
			n := m.session.SampleRate*float64(m.session.Channels)*m.cfg.RateMultiplier*dt + carry
			count := int(n)
			carry = n - float64(count)

			m.writeSamples(count)
		}
	}
}

// writeSamples appends count samples to the ring, overwriting the oldest
// slots once the writer laps the ring.
func (m *Sim) writeSamples(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < count; i++ {
		k := m.produced
		m.ring[k%uint64(len(m.ring))] = m.sampleValue(k)
		m.produced++
	}
}

// sampleValue synthesizes the value of interleaved sample k: a per-channel
// phase-shifted sine plus deterministic pseudo-noise.
func (m *Sim) sampleValue(k uint64) float64 {
	channels := uint64(m.session.Channels)
	frame := float64(k / channels)
	ch := float64(k % channels)

	t := frame / m.session.SampleRate
	phase := 2 * math.Pi * ch / float64(channels)
	v := m.cfg.Amplitude * math.Sin(2*math.Pi*m.cfg.SignalHz*t+phase)

	noise := (math.Sin(float64(k)*0.7) + math.Cos(float64(k)*1.3)) * m.cfg.NoiseLevel * 0.5
	return v + noise
}
