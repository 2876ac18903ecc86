package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// pipePort joins two in-process pipes into the io.ReadWriteCloser the
// link expects, with a scripted probe on the far end.
type pipePort struct {
	io.Reader
	io.Writer
	closed chan struct{}
}

func (p *pipePort) Close() error {
	close(p.closed)
	return nil
}

// startFakeProbe wires a link to a goroutine that answers commands the
// way the target firmware does.
func startFakeProbe(t *testing.T, win *capture.Window, handle func(line string) string) *Link {
	t.Helper()

	cmdR, cmdW := io.Pipe()   // station -> probe
	replyR, replyW := io.Pipe() // probe -> station

	port := &pipePort{Reader: replyR, Writer: cmdW, closed: make(chan struct{})}
	l := &Link{
		port:    port,
		win:     win,
		replies: make(chan Message, 4),
	}
	go l.readLoop()

	go func() {
		sc := bufio.NewScanner(cmdR)
		for sc.Scan() {
			reply := handle(strings.TrimSpace(sc.Text()))
			if reply == "" {
				continue
			}
			if _, err := io.WriteString(replyW, reply+"\n"); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		cmdW.Close()
		replyW.Close()
	})
	return l
}

func TestLinkProgram(t *testing.T) {
	var got string
	l := startFakeProbe(t, capture.NewWindow(1), func(line string) string {
		got = line
		return "OK"
	})

	if err := l.Program(dco.Config{RSel: 13, Step: 2, Mod: 17}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if got != "SET 13 2 17" {
		t.Fatalf("probe saw %q, want %q", got, "SET 13 2 17")
	}
}

func TestLinkProgramRejected(t *testing.T) {
	l := startFakeProbe(t, capture.NewWindow(1), func(string) string {
		return "ERR bad rsel"
	})

	if err := l.Program(dco.Config{RSel: 5}); err == nil {
		t.Fatal("expected error for rejected SET")
	}
}

func TestLinkCapRoutesToWindow(t *testing.T) {
	win := capture.NewWindow(4)
	l := startFakeProbe(t, win, func(line string) string {
		if line != "FLT" {
			t.Errorf("unexpected command %q", line)
			return "ERR"
		}
		// Captures arrive interleaved with the reply, exactly as the
		// probe streams them.
		return "CAP 1000\nCAP 1000\nCAP 1002\nCAP 1002\nFLT 0"
	})

	win.Reset(0)
	fault, err := l.RefFault()
	if err != nil {
		t.Fatalf("RefFault: %v", err)
	}
	if fault {
		t.Fatal("fault flag set, want clear")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := win.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m != 1001 {
		t.Fatalf("mean = %d, want 1001", m)
	}
}

func TestLinkFaultFlagSticks(t *testing.T) {
	l := startFakeProbe(t, capture.NewWindow(1), func(string) string {
		return "FLT 1"
	})

	fault, err := l.RefFault()
	if err != nil {
		t.Fatalf("RefFault: %v", err)
	}
	if !fault {
		t.Fatal("fault flag clear, want set")
	}
	if !l.LastFault() {
		t.Fatal("LastFault lost the pushed flag")
	}
}

func TestLinkDumpAndBurn(t *testing.T) {
	seg := strings.Repeat("FF", SegmentBytes)
	var burned string
	l := startFakeProbe(t, capture.NewWindow(1), func(line string) string {
		switch {
		case line == "DUMP":
			return "MEM " + seg
		case strings.HasPrefix(line, "BURN "):
			burned = strings.TrimPrefix(line, "BURN ")
			return "OK"
		default:
			return fmt.Sprintf("ERR unknown %s", line)
		}
	})

	mem, err := l.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	for i, b := range mem {
		if b != 0xFF {
			t.Fatalf("mem[%d] = %#02x, want 0xFF", i, b)
		}
	}

	var slots [SegmentBytes / 2]dco.Slot
	slots[0] = dco.Slot{0x60, 0x87}
	if err := l.Burn(slots); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if !strings.HasPrefix(burned, "6087") {
		t.Fatalf("burn payload %q does not start with slot bytes", burned)
	}
}
