// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cvep

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/OpenPSG/edf"
)

// ExportEDF writes an annotated recording as an EDF file with one-second
// data records. The synthesized stimulus channels carry the trial and frame
// markers, so no separate annotation track is needed. The final partial
// second of signal is zero-padded to a full record.
func ExportEDF(w io.WriteSeeker, raw *Raw, recordingID string, start time.Time) error {
	if raw.SFreq <= 0 || raw.SFreq != math.Trunc(raw.SFreq) {
		return fmt.Errorf("cannot export sampling rate %v as one-second records", raw.SFreq)
	}
	if len(raw.Data) == 0 {
		return fmt.Errorf("recording has no channels")
	}
	if len(raw.ChannelNames) != len(raw.Data) || len(raw.ChannelTypes) != len(raw.Data) {
		return fmt.Errorf("recording has %d channels but %d names and %d types", len(raw.Data), len(raw.ChannelNames), len(raw.ChannelTypes))
	}
	samplesPerRecord := int(raw.SFreq)

	hdr := edf.Header{
		Version:            edf.Version0,
		RecordingID:        recordingID,
		StartTime:          start,
		DataRecordDuration: time.Second,
		SignalCount:        len(raw.Data),
	}
	for ch := range raw.Data {
		pmin, pmax := physicalRange(raw.Data[ch])
		dimension := "uV"
		if raw.ChannelTypes[ch] == ChannelStim {
			dimension = ""
		}
		hdr.Signals = append(hdr.Signals, edf.SignalHeader{
			Label:             raw.ChannelNames[ch],
			PhysicalDimension: dimension,
			PhysicalMin:       pmin,
			PhysicalMax:       pmax,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  samplesPerRecord,
		})
	}

	ew, err := edf.Create(w, hdr)
	if err != nil {
		return fmt.Errorf("error creating EDF file: %w", err)
	}

	records := (raw.NSamples() + samplesPerRecord - 1) / samplesPerRecord
	for rec := 0; rec < records; rec++ {
		signals := make([][]float64, len(raw.Data))
		for ch, row := range raw.Data {
			chunk := make([]float64, samplesPerRecord)
			start := rec * samplesPerRecord
			end := start + samplesPerRecord
			if end > len(row) {
				end = len(row)
			}
			copy(chunk, row[start:end])
			signals[ch] = chunk
		}
		if err := ew.WriteRecord(signals); err != nil {
			return fmt.Errorf("error writing record %d: %w", rec, err)
		}
	}

	if err := ew.Close(); err != nil {
		return fmt.Errorf("error finalizing EDF file: %w", err)
	}
	return nil
}

// physicalRange returns the calibration range of a channel, widened when the
// signal is flat so the digital scaling stays well-defined.
func physicalRange(row []float64) (float64, float64) {
	if len(row) == 0 {
		return -1, 1
	}
	pmin, pmax := row[0], row[0]
	for _, v := range row {
		pmin = math.Min(pmin, v)
		pmax = math.Max(pmax, v)
	}
	if pmin == pmax {
		pmin--
		pmax++
	}
	return pmin, pmax
}
