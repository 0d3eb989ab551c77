package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
)

// fakePort reads from a fixed input and records writes.
type fakePort struct {
	r io.Reader

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	block    chan struct{} // when set, Write waits on it
	entered  int
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.entered++
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func newOpenLink(t *testing.T, port *fakePort) *Link {
	t.Helper()
	var gotName string
	var gotBaud int
	l := New(Options{
		PortName: "/dev/ttyACM0",
		BaudRate: 9600,
		Opener: func(name string, baud int) (io.ReadWriteCloser, error) {
			gotName, gotBaud = name, baud
			return port, nil
		},
	})
	if err := l.Open(); err != nil {
		t.Fatalf("Open err=%v", err)
	}
	if gotName != "/dev/ttyACM0" || gotBaud != 9600 {
		t.Fatalf("opener got %q/%d", gotName, gotBaud)
	}
	return l
}

func stubPortList(t *testing.T) {
	t.Helper()
	prev := listDetailedPorts
	listDetailedPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "2341", PID: "0043"}}, nil
	}
	t.Cleanup(func() { listDetailedPorts = prev })
}

func TestWriteSendsSingleRawCommand(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	l := newOpenLink(t, port)

	if err := l.Write(context.Background(), "A"); err != nil {
		t.Fatalf("Write err=%v", err)
	}
	writes := port.Writes()
	if len(writes) != 1 || !bytes.Equal(writes[0], []byte("A")) {
		t.Fatalf("writes=%q want exactly [\"A\"]", writes)
	}
}

func TestWriteWhenNeverOpened(t *testing.T) {
	stubPortList(t)
	openErr := errors.New("no such file or directory")
	l := New(Options{
		PortName: "/dev/ttyACM0",
		BaudRate: 9600,
		Opener: func(string, int) (io.ReadWriteCloser, error) {
			return nil, openErr
		},
	})

	err := l.Open()
	if !errors.Is(err, openErr) {
		t.Fatalf("Open err=%v want wrapped openErr", err)
	}
	if l.IsOpen() {
		t.Fatal("link reports open after failed Open")
	}
	if err := l.Write(context.Background(), "A"); !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Write err=%v want ErrLinkUnavailable", err)
	}
	if err := l.ReadLines(context.Background(), func(string) {}); !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("ReadLines err=%v want ErrLinkUnavailable", err)
	}
}

func TestOpenIsAttemptedOnce(t *testing.T) {
	stubPortList(t)
	calls := 0
	l := New(Options{
		PortName: "/dev/ttyACM0",
		BaudRate: 9600,
		Opener: func(string, int) (io.ReadWriteCloser, error) {
			calls++
			return nil, errors.New("busy")
		},
	})
	l.Open()
	if err := l.Open(); !errors.Is(err, ErrAlreadyOpened) {
		t.Fatalf("second Open err=%v", err)
	}
	if calls != 1 {
		t.Fatalf("opener called %d times", calls)
	}
}

func TestWriteFailureIsWrapped(t *testing.T) {
	ioErr := errors.New("device unplugged")
	port := &fakePort{r: strings.NewReader(""), writeErr: ioErr}
	l := newOpenLink(t, port)

	err := l.Write(context.Background(), "V")
	if !errors.Is(err, ioErr) {
		t.Fatalf("Write err=%v want wrapped ioErr", err)
	}
	if !strings.Contains(err.Error(), "device unplugged") {
		t.Fatalf("message lost: %v", err)
	}
	if !l.IsOpen() {
		t.Fatal("write failure must not close the link")
	}
}

func TestWriteTimesOut(t *testing.T) {
	port := &fakePort{r: strings.NewReader(""), block: make(chan struct{})}
	defer close(port.block)
	l := newOpenLink(t, port)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Write(ctx, "M")
	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("Write err=%v want ErrWriteTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Write did not honour the deadline")
	}
}

func TestStuckWriteDoesNotQueueMoreWrites(t *testing.T) {
	port := &fakePort{r: strings.NewReader(""), block: make(chan struct{})}
	l := newOpenLink(t, port)

	for _, cmd := range []string{"M", "V"} {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := l.Write(ctx, cmd)
		cancel()
		if !errors.Is(err, ErrWriteTimeout) {
			t.Fatalf("Write(%s) err=%v want ErrWriteTimeout", cmd, err)
		}
	}
	port.mu.Lock()
	entered := port.entered
	port.mu.Unlock()
	if entered != 1 {
		t.Fatalf("port.Write entered %d times while the first write was stuck", entered)
	}

	close(port.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Write(ctx, "A"); err != nil {
		t.Fatalf("Write after unblock err=%v", err)
	}
	writes := port.Writes()
	if len(writes) != 2 || string(writes[0]) != "M" || string(writes[1]) != "A" {
		t.Fatalf("writes=%q want [M A]", writes)
	}
}

func TestReadLinesDeliversTerminatedLines(t *testing.T) {
	port := &fakePort{r: strings.NewReader("23.5,60\r\n\nbad-data\n  11,21  \npartial,1")}
	l := newOpenLink(t, port)

	var lines []string
	err := l.ReadLines(context.Background(), func(line string) {
		lines = append(lines, line)
	})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReadLines err=%v want EOF", err)
	}
	want := []string{"23.5,60", "", "bad-data", "11,21"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines=%q want %q", lines, want)
	}
	if !l.IsOpen() {
		t.Fatal("read error must not mark the link closed")
	}
}

func TestReadLinesSkipsOverlongLine(t *testing.T) {
	input := "1,2\n" + strings.Repeat("x", 70*1024) + "\n23.5,60\n"
	port := &fakePort{r: strings.NewReader(input)}
	l := newOpenLink(t, port)

	var lines []string
	err := l.ReadLines(context.Background(), func(line string) {
		lines = append(lines, line)
	})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReadLines err=%v want EOF", err)
	}
	want := []string{"1,2", "23.5,60"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines=%q want %q", lines, want)
	}
}

func TestReadLinesQuietOnCancel(t *testing.T) {
	port := &fakePort{r: strings.NewReader("1,2\n")}
	l := newOpenLink(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.ReadLines(ctx, func(string) {}); err != nil {
		t.Fatalf("ReadLines after cancel err=%v", err)
	}
}

func TestCloseMarksLinkClosed(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	l := newOpenLink(t, port)
	if err := l.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
	if l.IsOpen() || !port.closed {
		t.Fatal("link still open after Close")
	}
	if err := l.Write(context.Background(), "A"); !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Write after Close err=%v", err)
	}
}

func TestListPorts(t *testing.T) {
	stubPortList(t)
	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts err=%v", err)
	}
	if len(ports) != 1 || ports[0].Name != "/dev/ttyUSB0" || !ports[0].IsUSB || ports[0].VID != "2341" {
		t.Fatalf("ports=%+v", ports)
	}
}
