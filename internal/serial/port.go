package serial

import (
	"fmt"
	"io"
	"time"

	bugst "go.bug.st/serial"
)

// Port is the minimal capability the channel needs from a serial port.
// Production code uses go.bug.st/serial; tests supply a deterministic fake.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds subsequent Read calls. A Read that sees no data
	// within the timeout returns n == 0 with a nil error.
	SetReadTimeout(d time.Duration) error

	// ResetInputBuffer discards unread received data.
	ResetInputBuffer() error

	// ResetOutputBuffer discards unsent transmit data.
	ResetOutputBuffer() error
}

// openPort opens a physical serial port at the given baud rate, 8N1 with no
// flow control, matching the MeshCore USB CDC framing.
func openPort(path string, baud int) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}

	port, err := bugst.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
