package probe

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// replyTimeout bounds how long a command waits for its reply. CAP
// traffic keeps flowing meanwhile; only the command/reply pairs are
// serialized.
const replyTimeout = 2 * time.Second

// Link is the live UART connection to the calibration probe. Its
// reader goroutine plays the role of the capture interrupt: every CAP
// event goes straight into the shared capture window. Command replies
// are handed to the single in-flight command.
type Link struct {
	port    io.ReadWriteCloser
	win     *capture.Window
	replies chan Message

	mu sync.Mutex // one command in flight at a time

	fmu       sync.Mutex
	lastFault bool
}

// Open connects to the probe on a serial port and starts the reader.
func Open(portName string, baud uint, win *capture.Window) (*Link, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("probe: open %s: %w", portName, err)
	}
	log.Printf("probe: serial port opened on %s at %d baud", portName, baud)

	l := &Link{
		port:    port,
		win:     win,
		replies: make(chan Message, 4),
	}
	go l.readLoop()
	return l, nil
}

// Close shuts the serial port down. The reader goroutine exits on the
// resulting read error.
func (l *Link) Close() error {
	return l.port.Close()
}

func (l *Link) readLoop() {
	r := bufio.NewReader(l.port)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			log.Printf("probe: read loop stopped: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		msg, err := ParseLine(line)
		if err != nil {
			// Noise on the line right after reset is normal.
			log.Printf("probe: %v", err)
			continue
		}

		switch msg.Type {
		case MsgCap:
			l.win.Add(msg.Capture)
		case MsgFault:
			l.fmu.Lock()
			l.lastFault = msg.Fault
			l.fmu.Unlock()
			l.deliver(msg)
		default:
			l.deliver(msg)
		}
	}
}

// deliver hands a reply to the waiting command without ever blocking
// the reader.
func (l *Link) deliver(msg Message) {
	select {
	case l.replies <- msg:
	default:
		log.Printf("probe: dropping unsolicited reply %v", msg.Type)
	}
}

// command sends one line and waits for the matching reply type.
func (l *Link) command(line string, want MsgType) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Flush replies left over from a timed-out predecessor.
	for {
		select {
		case <-l.replies:
			continue
		default:
		}
		break
	}

	if _, err := io.WriteString(l.port, line+"\n"); err != nil {
		return Message{}, fmt.Errorf("probe: send %q: %w", line, err)
	}

	deadline := time.After(replyTimeout)
	for {
		select {
		case msg := <-l.replies:
			if msg.Type == MsgErr {
				return Message{}, fmt.Errorf("probe: %q rejected: %s", line, msg.Reason)
			}
			if msg.Type != want {
				// Async FLT can slip in between; skip it.
				continue
			}
			return msg, nil
		case <-deadline:
			return Message{}, fmt.Errorf("probe: no reply to %q", line)
		}
	}
}

// Program implements capture.Programmer over the SET command.
func (l *Link) Program(cfg dco.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := l.command(FormatSet(cfg), MsgOK)
	return err
}

// Dump reads the target's calibration segment.
func (l *Link) Dump() ([SegmentBytes]byte, error) {
	msg, err := l.command("DUMP", MsgMem)
	if err != nil {
		return [SegmentBytes]byte{}, err
	}
	return msg.Mem, nil
}

// Burn writes all nine calibration slots in one command.
func (l *Link) Burn(slots [SegmentBytes / 2]dco.Slot) error {
	_, err := l.command(FormatBurn(slots), MsgOK)
	return err
}

// Erase blanks the calibration segment (override runs only).
func (l *Link) Erase() error {
	_, err := l.command("ERASE", MsgOK)
	return err
}

// FactoryCal reads the factory 1MHz calibration bytes the probe uses
// for flash write timing.
func (l *Link) FactoryCal() (dco.Slot, error) {
	msg, err := l.command("FCAL", MsgCal)
	if err != nil {
		return dco.Slot{}, err
	}
	return msg.Cal, nil
}

// LastFault returns the most recent fault flag seen on the line,
// without a round trip. Probes also push FLT spontaneously when the
// flag changes.
func (l *Link) LastFault() bool {
	l.fmu.Lock()
	defer l.fmu.Unlock()
	return l.lastFault
}

// RefFault polls the reference-oscillator fault flag.
func (l *Link) RefFault() (bool, error) {
	msg, err := l.command("FLT", MsgFault)
	if err != nil {
		return false, err
	}
	return msg.Fault, nil
}
