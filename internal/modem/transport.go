package modem

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// ErrPortBusy means another process holds the port. The scan loop treats it
// as "skip this cycle", never as a device fault.
var ErrPortBusy = errors.New("serial port busy or access denied")

// Transport is an established byte stream to one modem. Implementations are
// serial ports in production and scripted fakes in tests.
type Transport interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Dialer opens a Transport to the modem on a named port.
type Dialer interface {
	Dial(portName string) (Transport, error)
}

// SerialDialer opens modems over a physical serial port.
type SerialDialer struct {
	BaudRate    int
	ReadTimeout time.Duration
}

func (d SerialDialer) Dial(portName string) (Transport, error) {
	baud := d.BaudRate
	if baud == 0 {
		baud = 115200
	}
	readTimeout := d.ReadTimeout
	if readTimeout == 0 {
		readTimeout = time.Second
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) {
			switch portErr.Code() {
			case serial.PortBusy, serial.PermissionDenied:
				return nil, fmt.Errorf("%s: %w", portName, ErrPortBusy)
			}
		}
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure %s: %w", portName, err)
	}

	return &serialTransport{port: port}, nil
}

type serialTransport struct {
	port serial.Port
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }
func (t *serialTransport) ResetInputBuffer() error     { return t.port.ResetInputBuffer() }
