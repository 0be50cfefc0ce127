package daq

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate for the acquisition box.
	DefaultBaudRate = 115200
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial drives a DAQ box over a serial line protocol. One request line is
// written per command and one reply line is read back:
//
//	START <rate> <channels> <capacity>  -> OK | ERR <message>
//	STATUS                              -> RUNNING,<produced> | IDLE,<produced>
//	READ <offset> <count>               -> <v0>,<v1>,...,<vN-1>
//	STOP                                -> OK
//	FREE                                -> OK
type Serial struct {
	port     string
	baudRate int

	mu        sync.Mutex
	conn      serial.Port
	rd        *bufio.Reader
	connected bool
}

// NewSerial creates a controller for the device on the given port.
func NewSerial(port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Detect scans the port inventory for a port whose name contains match and
// returns its name. Returns ErrNoDevices when nothing is attached and
// ErrDeviceNotFound when no port matches.
func Detect(match string) (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoDevices
	}
	for _, p := range ports {
		if strings.Contains(p.Name, match) || strings.Contains(p.Description, match) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, match)
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.rd = bufio.NewReader(port)
	d.connected = true

	return nil
}

// Close closes the serial port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.connected = false
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		d.rd = nil
		if err != nil {
			return fmt.Errorf("failed to close serial port: %w", err)
		}
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// StartScan configures the device and starts the background scan.
func (d *Serial) StartScan(s Session) error {
	cmd := fmt.Sprintf("START %v %d %d", s.SampleRate, s.Channels, s.RingCapacity)
	reply, err := d.command(cmd)
	if err != nil {
		return err
	}
	return parseAck(reply)
}

// Status queries scan progress.
func (d *Serial) Status() (Status, error) {
	reply, err := d.command("STATUS")
	if err != nil {
		return Status{}, err
	}
	return parseStatus(reply)
}

// ReadBuffer copies len(dst) samples starting at offset out of the device's
// ring buffer. The range must not wrap.
func (d *Serial) ReadBuffer(dst []float64, offset int) error {
	if len(dst) == 0 {
		return nil
	}
	reply, err := d.command(fmt.Sprintf("READ %d %d", offset, len(dst)))
	if err != nil {
		return err
	}
	return parseRecord(reply, dst)
}

// StopScan halts the background scan.
func (d *Serial) StopScan() error {
	reply, err := d.command("STOP")
	if err != nil {
		return err
	}
	return parseAck(reply)
}

// ReleaseBuffer frees the device-side ring buffer.
func (d *Serial) ReleaseBuffer() error {
	reply, err := d.command("FREE")
	if err != nil {
		return err
	}
	return parseAck(reply)
}

// command writes one request line and reads one reply line. Requests are
// serialized so replies cannot interleave.
func (d *Serial) command(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return "", fmt.Errorf("not connected")
	}

	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	line, err := d.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply to %q: %w", cmd, err)
	}

	return strings.TrimSpace(line), nil
}

// parseAck checks an OK/ERR reply line.
func parseAck(line string) error {
	switch {
	case line == "OK":
		return nil
	case strings.HasPrefix(line, "ERR"):
		return fmt.Errorf("device error: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return fmt.Errorf("unexpected reply %q", line)
	}
}

// parseStatus parses a STATUS reply line.
// Format: RUNNING,<produced> or IDLE,<produced>
func parseStatus(line string) (Status, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Status{}, fmt.Errorf("invalid status format: expected 2 comma-separated values, got %d", len(parts))
	}

	var running bool
	switch parts[0] {
	case "RUNNING":
		running = true
	case "IDLE":
		running = false
	default:
		return Status{}, fmt.Errorf("invalid scan state %q", parts[0])
	}

	produced, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("invalid produced count: %w", err)
	}

	return Status{Running: running, Produced: produced}, nil
}

// parseRecord parses a READ reply line of comma-separated samples into dst.
// The device must return exactly len(dst) values.
func parseRecord(line string, dst []float64) error {
	parts := strings.Split(line, ",")
	if len(parts) != len(dst) {
		return fmt.Errorf("invalid record: expected %d samples, got %d", len(dst), len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid sample %d: %w", i, err)
		}
		dst[i] = v
	}
	return nil
}
