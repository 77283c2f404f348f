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

	"gonum.org/v1/gonum/floats"
)

const (
	// TrialMarkerOffset is the base marker value of the trial stimulus
	// channel: class 0 is marked 200, class 1 is 201, and so on.
	TrialMarkerOffset = 200
	// EpochMarkerOffset is the base marker value of the per-frame stimulus
	// channel: an "off" frame is marked 100 and an "on" frame 101.
	EpochMarkerOffset = 100
)

// AddStimChannelTrial appends a stimulus channel carrying one impulse per
// trial, valued offset+label, at the trial onsets given in samples.
func AddStimChannelTrial(raw *Raw, onsets []int, labels []int, offset int, name string) error {
	if len(labels) != len(onsets) {
		return fmt.Errorf("got %d labels for %d onsets", len(labels), len(onsets))
	}
	stim := make([]float64, raw.NSamples())
	for i, onset := range onsets {
		if onset < 0 || onset >= len(stim) {
			return fmt.Errorf("trial onset %d outside recording of %d samples", onset, len(stim))
		}
		stim[onset] = float64(offset + labels[i])
	}
	return raw.AddChannel(name, ChannelStim, stim)
}

// AddStimChannelEpoch appends a stimulus channel carrying one impulse per
// frame, valued offset+label, at the frame onsets given in seconds.
func AddStimChannelEpoch(raw *Raw, onsets []float64, labels []int, offset int, name string) error {
	if len(labels) != len(onsets) {
		return fmt.Errorf("got %d labels for %d onsets", len(labels), len(onsets))
	}
	stim := make([]float64, raw.NSamples())
	for i, onset := range onsets {
		sample := int(onset * raw.SFreq)
		if sample < 0 || sample >= len(stim) {
			return fmt.Errorf("frame onset %.3fs outside recording of %d samples", onset, len(stim))
		}
		stim[sample] = float64(offset + labels[i])
	}
	return raw.AddChannel(name, ChannelStim, stim)
}

// SetAverageReference re-references the EEG channels of a recording in place
// by subtracting the per-sample mean over all EEG channels. Stimulus
// channels are left untouched.
func SetAverageReference(raw *Raw) {
	var eeg [][]float64
	for ch, typ := range raw.ChannelTypes {
		if typ == ChannelEEG {
			eeg = append(eeg, raw.Data[ch])
		}
	}
	if len(eeg) == 0 {
		return
	}

	ref := make([]float64, raw.NSamples())
	for _, row := range eeg {
		floats.Add(ref, row)
	}
	floats.Scale(1/float64(len(eeg)), ref)
	for _, row := range eeg {
		floats.Sub(row, ref)
	}
}
