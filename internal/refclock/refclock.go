// Package refclock cross-checks the 32768 Hz reference crystal against
// an independent time source before calibration starts. A GPS receiver
// with a valid fix is a trustworthy frequency reference; if its NMEA
// stream shows valid RMC sentences, the board's reference can be
// trusted to the tolerance this calibration needs.
package refclock

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// Verify opens the GPS serial port and waits for a valid RMC sentence.
// It returns nil once one is seen, or an error if the timeout passes
// without a valid fix. Callers treat a failure as "cross-check
// unavailable", not as a reference fault; the probe's own fault flag
// stays authoritative.
func Verify(portName string, baud uint, timeout time.Duration) error {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return fmt.Errorf("refclock: open %s: %w", portName, err)
	}
	defer port.Close()

	log.Printf("refclock: waiting up to %v for a valid GPS fix on %s", timeout, portName)

	deadline := time.Now().Add(timeout)
	reader := bufio.NewReader(port)

	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("refclock: read: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			// Partial sentences right after open are normal.
			continue
		}

		if sentence.DataType() != nmea.TypeRMC {
			continue
		}
		rmc := sentence.(nmea.RMC)
		if rmc.Validity == nmea.ValidRMC {
			log.Printf("refclock: valid fix at %s, reference cross-check passed", rmc.Time)
			return nil
		}
	}

	return fmt.Errorf("refclock: no valid GPS fix on %s within %v", portName, timeout)
}
