package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/seglab/aiscan/pkg/daq"
)

// ErrStartTimeout indicates the scan never left the idle state within the
// configured start timeout.
var ErrStartTimeout = errors.New("scan did not start")

// startPollInterval is how often the loop re-checks status while waiting
// for the scan to leave idle.
const startPollInterval = time.Millisecond

// State identifies the acquisition loop's lifecycle phase.
type State int

const (
	Starting State = iota
	Running
	Stopped
	Faulted
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures an acquisition loop.
type Options struct {
	// PollInterval is the backoff between status polls when less than a
	// full chunk is available. Defaults to 100ms.
	PollInterval time.Duration
	// StartTimeout bounds the wait for the scan to leave idle. Defaults
	// to 5s.
	StartTimeout time.Duration
	// TargetSamples stops the loop once this many samples have been
	// drained. Zero means one ring buffer's worth.
	TargetSamples uint64
	// OnChunk, if set, is called after each successfully drained chunk
	// with the total samples consumed so far.
	OnChunk func(consumed uint64)
}

// Loop runs the acquisition state machine: it polls scan progress, drains
// chunks through a Reader, and demultiplexes them, until an external stop,
// an overrun fault, or the target sample count.
type Loop struct {
	ctrl    daq.Controller
	session daq.Session
	reader  *Reader
	demux   *Demux
	opts    Options
	state   State
}

// NewLoop builds an acquisition loop for one scan session.
func NewLoop(ctrl daq.Controller, session daq.Session, opts Options) (*Loop, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.TargetSamples == 0 {
		opts.TargetSamples = uint64(session.RingCapacity)
	}

	reader, err := NewReader(session.RingCapacity, session.ChunkSize, ctrl, func() (uint64, error) {
		st, err := ctrl.Status()
		if err != nil {
			return 0, err
		}
		return st.Produced, nil
	})
	if err != nil {
		return nil, err
	}

	return &Loop{
		ctrl:    ctrl,
		session: session,
		reader:  reader,
		demux:   NewDemux(session.Channels),
		opts:    opts,
		state:   Starting,
	}, nil
}

// State returns the loop's current lifecycle phase.
func (l *Loop) State() State {
	return l.state
}

// Consumed returns the total samples drained so far.
func (l *Loop) Consumed() uint64 {
	return l.reader.Consumed()
}

// Run starts the scan and drives the state machine until a terminal state.
// On every exit path, fault included, the scan is stopped and the hardware
// buffer released exactly once. The per-channel series collected so far are
// always returned so the caller can export partial data after a fault.
func (l *Loop) Run(ctx context.Context) ([][]float64, error) {
	if err := l.ctrl.StartScan(l.session); err != nil {
		l.state = Faulted
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}

	err := l.run(ctx)

	if serr := l.ctrl.StopScan(); serr != nil {
		log.Printf("Failed to stop scan: %v", serr)
	}
	if rerr := l.ctrl.ReleaseBuffer(); rerr != nil {
		log.Printf("Failed to release scan buffer: %v", rerr)
	}

	return l.demux.Series(), err
}

func (l *Loop) run(ctx context.Context) error {
	if err := l.waitForStart(ctx); err != nil {
		l.state = Faulted
		return err
	}
	if ctx.Err() != nil {
		l.state = Stopped
		return nil
	}
	l.state = Running

	for {
		// Stop requests are observed between iterations, never mid-copy.
		if ctx.Err() != nil {
			l.state = Stopped
			return nil
		}

		st, err := l.ctrl.Status()
		if err != nil {
			l.state = Faulted
			return fmt.Errorf("failed to query scan status: %w", err)
		}

		chunk, err := l.reader.TryDrain(st.Produced)
		if err != nil {
			l.state = Faulted
			return err
		}

		if chunk == nil {
			// No backlog left; a scan that went idle on its own is done.
			if !st.Running {
				l.state = Stopped
				return nil
			}
			select {
			case <-ctx.Done():
				l.state = Stopped
				return nil
			case <-time.After(l.opts.PollInterval):
			}
			continue
		}

		l.demux.Append(chunk)
		if l.opts.OnChunk != nil {
			l.opts.OnChunk(l.reader.Consumed())
		}

		if l.reader.Consumed() >= l.opts.TargetSamples {
			l.state = Stopped
			return nil
		}
		// Re-poll immediately to drain any backlog.
	}
}

// waitForStart polls status until the scan leaves idle.
func (l *Loop) waitForStart(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.StartTimeout)
	for {
		if ctx.Err() != nil {
			return nil
		}

		st, err := l.ctrl.Status()
		if err != nil {
			return fmt.Errorf("failed to query scan status: %w", err)
		}
		if st.Running {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %v", ErrStartTimeout, l.opts.StartTimeout)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(startPollInterval):
		}
	}
}
