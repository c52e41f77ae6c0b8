// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// uereM is the user equivalent range error used to turn HDOP into a
// horizontal accuracy estimate in meters.
const uereM = 5.0

// NMEADecoder turns a stream of NMEA-0183 sentences into fixes.
//
// A fix is emitted for every valid RMC sentence. Accuracy is taken from the
// GGA sentence carrying the same time of day; without one the fix is marked
// AccuracyUnknown.
type NMEADecoder struct {
	Source string

	ggaTime nmea.Time
	hdop    float64
	haveGGA bool
}

// NewNMEADecoder returns a decoder that stamps fixes with source.
func NewNMEADecoder(source string) *NMEADecoder {
	return &NMEADecoder{Source: source}
}

// Decode consumes one line. It returns ok=true when the line completed a fix.
// Lines that are not sentences are ignored; malformed sentences return an error.
func (d *NMEADecoder) Decode(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	// NMEA sentences start with '$'
	if line == "" || !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, err
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid || !m.Time.Valid {
			d.haveGGA = false
			return Fix{}, false, nil
		}
		d.ggaTime = m.Time
		d.hdop = m.HDOP
		d.haveGGA = true

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
			return Fix{}, false, nil
		}
		f := Fix{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Accuracy:  AccuracyUnknown,
			Source:    d.Source,
			Time:      rmcTime(m.Date, m.Time).UnixMilli(),
		}
		if d.haveGGA && d.ggaTime == m.Time && d.hdop > 0 {
			f.Accuracy = d.hdop * uereM
		}
		return f, true, nil

	default:
		// GSA, GSV, VTG etc. carry nothing the tracker needs
	}
	return Fix{}, false, nil
}

func rmcTime(d nmea.Date, t nmea.Time) time.Time {
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
