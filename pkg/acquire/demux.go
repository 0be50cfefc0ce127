package acquire

// Demux reassembles a flat, time-ordered, channel-interleaved sample stream
// into per-channel series. The round-robin channel index carries across
// chunk boundaries, so chunk lengths need not be a multiple of the channel
// count; channel 0 is always the first sample the scan ever produced.
type Demux struct {
	series [][]float64
	next   int
}

// NewDemux creates a demultiplexer for the given number of channels.
func NewDemux(channels int) *Demux {
	if channels < 1 {
		channels = 1
	}
	return &Demux{
		series: make([][]float64, channels),
	}
}

// Append distributes the samples of one drained chunk onto the per-channel
// series in round-robin order.
func (d *Demux) Append(chunk []float64) {
	for _, v := range chunk {
		d.series[d.next] = append(d.series[d.next], v)
		d.next = (d.next + 1) % len(d.series)
	}
}

// Channels returns the number of channels.
func (d *Demux) Channels() int {
	return len(d.series)
}

// Series returns the per-channel sample series. Series lengths can differ by
// at most one sample; the export step trims them to the shortest. The
// returned slices are owned by the demultiplexer and must only be read after
// acquisition stops.
func (d *Demux) Series() [][]float64 {
	return d.series
}
