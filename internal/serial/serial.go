package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	// ErrLinkUnavailable is returned when the port was never opened.
	ErrLinkUnavailable = errors.New("serial port not open")
	// ErrWriteTimeout is returned when a write does not complete before the
	// caller's deadline.
	ErrWriteTimeout = errors.New("serial write timed out")
	// ErrAlreadyOpened is returned by a second Open call; the port is
	// opened at most once per process.
	ErrAlreadyOpened = errors.New("serial port open already attempted")
)

// Opener opens a byte stream to the device. OpenDevice is the real one.
type Opener func(portName string, baudRate int) (io.ReadWriteCloser, error)

// OpenDevice opens portName as 8N1 at baudRate.
func OpenDevice(portName string, baudRate int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portName, mode)
}

// Options configures a Link.
type Options struct {
	PortName   string
	BaudRate   int
	ResetDelay time.Duration // the board reboots when the port opens
	Opener     Opener        // nil means OpenDevice
}

// Link is the single connection to the device. It is opened once; if that
// fails the link stays unusable for the lifetime of the process.
type Link struct {
	opts Options

	mu        sync.Mutex // guards port and attempted
	port      io.ReadWriteCloser
	attempted bool

	writing chan struct{} // holds a token while a write is in flight
}

func New(opts Options) *Link {
	if opts.Opener == nil {
		opts.Opener = OpenDevice
	}
	return &Link{opts: opts, writing: make(chan struct{}, 1)}
}

// PortName returns the configured device path.
func (l *Link) PortName() string { return l.opts.PortName }

// BaudRate returns the configured baud rate.
func (l *Link) BaudRate() int { return l.opts.BaudRate }

// IsOpen reports whether the port was opened successfully and not closed.
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Open makes the single connection attempt. Failures are logged together
// with the ports the system currently sees; there is no retry.
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.attempted {
		return ErrAlreadyOpened
	}
	l.attempted = true

	logger.Info("Attempting to open serial port: %s (%d baud)", l.opts.PortName, l.opts.BaudRate)
	p, err := l.opts.Opener(l.opts.PortName, l.opts.BaudRate)
	if err != nil {
		logger.Error("Failed to open serial port %s: %v. Is the device connected?", l.opts.PortName, err)
		logAvailablePorts()
		return fmt.Errorf("failed to open serial port %s: %w", l.opts.PortName, err)
	}
	l.port = p
	logger.Info("Connected to device on %s", l.opts.PortName)

	if l.opts.ResetDelay > 0 {
		time.AfterFunc(l.opts.ResetDelay, func() {
			logger.Info("Ready for commands")
		})
	}
	return nil
}

// Write sends command to the device as raw bytes, without framing.
// It returns ErrLinkUnavailable without writing if the port is not open,
// and ErrWriteTimeout if ctx expires first.
func (l *Link) Write(ctx context.Context, command string) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return ErrLinkUnavailable
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
	}

	// A write that never returns keeps the token, so later commands time
	// out here instead of queueing goroutines behind it.
	select {
	case l.writing <- struct{}{}:
	case <-ctx.Done():
		logger.Warn("Serial write of command '%s' not started, previous write still pending", command)
		return fmt.Errorf("%w: %v", ErrWriteTimeout, ctx.Err())
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-l.writing }()
		_, err := port.Write([]byte(command))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Serial write failed: %v", err)
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
		logger.Info("Sent command: %s", command)
		return nil
	case <-ctx.Done():
		logger.Warn("Serial write of command '%s' did not complete: %v", command, ctx.Err())
		return fmt.Errorf("%w: %v", ErrWriteTimeout, ctx.Err())
	}
}

// maxLineLength bounds a single device line. Longer lines are discarded up
// to their terminating newline and decoding resumes with the next line.
const maxLineLength = 4096

// ReadLines decodes newline-terminated lines from the device and passes
// each one, trimmed, to fn. A trailing fragment without newline is never
// delivered, nor is any line longer than maxLineLength. A read error ends
// the loop and is logged; it does not close the link, so writes keep being
// attempted. ReadLines returns nil when it ends because ctx was cancelled
// (the caller closes the link to unblock it).
func (l *Link) ReadLines(ctx context.Context, fn func(line string)) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return ErrLinkUnavailable
	}

	reader := bufio.NewReaderSize(port, maxLineLength)
	overlong := false
	var err error
	for {
		var data []byte
		data, err = reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !overlong {
				logger.Warn("Discarding serial line longer than %d bytes", maxLineLength)
			}
			overlong = true
			continue
		}
		if err != nil {
			break
		}
		if overlong {
			overlong = false
			continue
		}
		fn(strings.TrimSpace(string(data)))
	}

	if ctx.Err() != nil {
		return nil
	}
	logger.Error("Serial Error: %v", err)
	return fmt.Errorf("serial read loop ended: %w", err)
}

// Close closes the port. After Close the link reports not open.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	logger.Info("Serial port %s closed.", l.opts.PortName)
	return err
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// listDetailedPorts is replaced in tests.
var listDetailedPorts = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports the system currently reports.
func ListPorts() ([]PortInfo, error) {
	ports, err := listDetailedPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	result := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return result, nil
}

func logAvailablePorts() {
	ports, err := ListPorts()
	if err != nil {
		logger.Warn("Could not list serial ports: %v", err)
		return
	}
	if len(ports) == 0 {
		logger.Warn("No serial ports found on the system.")
		return
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	logger.Info("Available serial ports: %s", strings.Join(names, ", "))
}
