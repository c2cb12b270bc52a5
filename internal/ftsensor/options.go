package ftsensor

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate suits serial F/T sensors streaming at 1 kHz.
const DefaultBaudRate = 460800

var (
	parities = map[string]serial.Parity{
		"N": serial.NoParity, "NONE": serial.NoParity,
		"E": serial.EvenParity, "EVEN": serial.EvenParity,
		"O": serial.OddParity, "ODD": serial.OddParity,
	}
	stopBits = map[int]serial.StopBits{
		1: serial.OneStopBit,
		2: serial.TwoStopBits,
	}
)

// PortOptions describes the serial line of a sensor. Zero fields take the
// 8N1 defaults at DefaultBaudRate.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalise fills defaults and canonicalises Parity to N, E or O.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("data bits must be 5 to 8, got %d", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("stop bits must be 1 or 2, got %d", o.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if p == "" {
		p = "N"
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("parity must be N, E or O, got %q", o.Parity)
	}
	o.Parity = p[:1]
	return o, nil
}

// SerialMode returns the go.bug.st/serial mode for the normalised options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity],
	}, nil
}

// OpenSerial opens the sensor at path and wraps it in a Mux feeding sink.
// Bytes buffered before the open are discarded so the first line read is
// current.
func OpenSerial(path string, opts PortOptions, sink Sink) (*Mux[serial.Port], error) {
	n, err := opts.Normalise()
	if err != nil {
		return nil, fmt.Errorf("serial options for %s: %w", path, err)
	}
	mode, _ := n.SerialMode()
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logf("Warning: could not flush input of %s: %v", path, err)
	}
	logf("opened %s at %d baud %d%s%d", path, n.BaudRate, n.DataBits, n.Parity, n.StopBits)
	return NewMux[serial.Port](port, sink), nil
}
