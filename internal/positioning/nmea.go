// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package positioning

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/family_locator/internal/location"
)

const (
	knotsToMetersPerSecond = 0.514444
	// typical user equivalent range error of a consumer receiver, meters
	defaultUERE = 5.0
)

// OpenSerial opens the GPS receiver's serial port.
// NOTE: adjust the port to match your setup: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
func OpenSerial(portName string, baud int) (io.ReadWriteCloser, error) {
	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open GPS serial port %s: %w", portName, err)
	}
	log.Printf("nmea: serial port opened on %s at %d baud", portName, baud)
	return port, nil
}

// NMEAReceiver turns an NMEA 0183 sentence stream into fixes on a Provider.
// RMC sentences produce fixes; the latest GGA contributes altitude and an
// HDOP based accuracy estimate.
type NMEAReceiver struct {
	provider *Provider

	// state from the latest GGA sentence
	altitude *float64
	accuracy *float64
}

func NewNMEAReceiver(p *Provider) *NMEAReceiver {
	return &NMEAReceiver{provider: p}
}

// Run reads sentences from rd until it fails or ctx is cancelled. The
// provider is enabled while the stream is readable and disabled on exit.
// If rd is an io.Closer it is closed when ctx is cancelled to unblock reads.
func (r *NMEAReceiver) Run(ctx context.Context, rd io.Reader) error {
	r.provider.SetEnabled(true)
	defer r.provider.SetEnabled(false)

	if c, ok := rd.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	reader := bufio.NewReader(rd)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			r.HandleLine(line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Printf("nmea: stream closed")
				return nil
			}
			log.Printf("nmea: read error: %v", err)
			return err
		}
	}
}

// HandleLine parses one sentence and publishes a fix for valid RMC data.
// Unparseable input is ignored; receivers emit partial sentences at startup.
func (r *NMEAReceiver) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid {
			r.altitude, r.accuracy = nil, nil
			return
		}
		r.altitude = location.Float(m.Altitude)
		if m.HDOP > 0 {
			r.accuracy = location.Float(m.HDOP * defaultUERE)
		}

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return
		}
		fix := location.Fix{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Accuracy:  r.accuracy,
			Altitude:  r.altitude,
			Bearing:   location.Float(m.Course),
			Speed:     location.Float(m.Speed * knotsToMetersPerSecond),
			Timestamp: rmcTime(m),
		}
		if err := fix.Validate(); err != nil {
			log.Printf("nmea: dropping RMC fix: %v", err)
			return
		}
		r.provider.Publish(fix)

	default:
		// GSA, GSV and the rest carry nothing a fix needs
	}
}

func rmcTime(m nmea.RMC) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return time.Now()
	}
	year := 2000 + m.Date.YY
	if m.Date.YY >= 80 {
		year = 1900 + m.Date.YY
	}
	return time.Date(year, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
}
