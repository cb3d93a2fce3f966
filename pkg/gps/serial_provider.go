package gps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// SerialNMEAProvider reads fixes from a GPS receiver connected via serial
// port, parsing NMEA GGA sentences.
type SerialNMEAProvider struct {
	port     string
	baudRate int

	// FixTimeout bounds how long CurrentFix waits for a usable sentence.
	FixTimeout time.Duration

	mu   sync.Mutex
	conn *serial.Port
}

// NewSerialNMEAProvider creates a provider for the GPS receiver mounted at
// the given serial port.
func NewSerialNMEAProvider(port string, baudRate int) *SerialNMEAProvider {
	return &SerialNMEAProvider{
		port:       port,
		baudRate:   baudRate,
		FixTimeout: 10 * time.Second,
	}
}

func (p *SerialNMEAProvider) open() (*serial.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}

	c := &serial.Config{Name: p.port, Baud: p.baudRate, ReadTimeout: time.Second}
	s, err := serial.OpenPort(c)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, p.port)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, p.port, err)
	}

	p.conn = s
	return s, nil
}

// CurrentFix blocks until the receiver produces a GGA sentence with a valid
// fix, the context is cancelled, or FixTimeout elapses.
func (p *SerialNMEAProvider) CurrentFix(ctx context.Context) (Fix, error) {
	conn, err := p.open()
	if err != nil {
		return Fix{}, err
	}

	deadline := time.Now().Add(p.FixTimeout)
	scanner := bufio.NewScanner(conn)

	for {
		if err := ctx.Err(); err != nil {
			return Fix{}, err
		}
		if time.Now().After(deadline) {
			return Fix{}, ErrTimeout
		}

		// The serial read timeout keeps Scan from blocking indefinitely.
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			continue
		}

		fix, ok := parseFix(scanner.Text())
		if ok {
			return fix, nil
		}
	}
}

// Watch streams fixes as the receiver produces them.
func (p *SerialNMEAProvider) Watch(ctx context.Context) (<-chan Fix, error) {
	conn, err := p.open()
	if err != nil {
		return nil, err
	}

	out := make(chan Fix)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(conn)
		for {
			if ctx.Err() != nil {
				return
			}
			if !scanner.Scan() {
				if scanner.Err() != nil {
					return
				}
				continue
			}

			fix, ok := parseFix(scanner.Text())
			if !ok {
				continue
			}

			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the serial port.
func (p *SerialNMEAProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// parseFix converts one raw NMEA line into a Fix. GGA sentences with a
// non-zero fix quality qualify, with HDOP standing in for horizontal
// accuracy; RMC sentences qualify when flagged valid but carry no altitude.
func parseFix(line string) (Fix, bool) {
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return Fix{}, false
		}
		alt := s.Altitude
		return Fix{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Altitude:  &alt,
			Accuracy:  s.HDOP,
			Timestamp: time.Now(),
		}, true
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Fix{}, false
		}
		return Fix{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: time.Now(),
		}, true
	default:
		return Fix{}, false
	}
}
