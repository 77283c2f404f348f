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
	"errors"
	"fmt"
	"math"
)

// realignState tracks the walk through per-frame indices: which trial the
// walk is currently in and the frame-domain shift that maps trial-relative
// frame indices onto absolute display frames.
type realignState struct {
	currentTrial int
	onsetShift   float64
}

// RealignOnsets computes the absolute onset, in seconds, of every "on" frame
// and every "off" frame. frameIdx and frameLabels are the flat indices and
// labels emitted by WindowByFrame, trialOnsets the trial onsets in EEG
// samples. seqMin is the 1-based first trial to anchor on and seqMax the
// last trial + 1. windowSize is the analysis window duration in seconds and
// sfreq the EEG sampling rate.
//
// Trial onsets are rescaled to the display frame domain and the walk
// re-anchors its cumulative shift at every trial boundary, so drift between
// the nominal frame duration and the actual EEG-clock trial onsets does not
// accumulate. The returned sequences are disjoint by value.
func RealignOnsets(frameIdx []int, frameLabels []int, trialOnsets []int, seqMin, seqMax int, windowSize, sfreq float64) (on, off []float64, err error) {
	if sfreq == 0 {
		return nil, nil, errors.New("sampling rate must be nonzero")
	}
	if len(frameLabels) != len(frameIdx) {
		return nil, nil, fmt.Errorf("got %d frame labels for %d frame indices", len(frameLabels), len(frameIdx))
	}
	if seqMin < 1 || seqMax < seqMin || seqMax > len(trialOnsets) {
		return nil, nil, fmt.Errorf("trial range [%d, %d) out of bounds for %d trial onsets", seqMin, seqMax, len(trialOnsets))
	}

	// Trial onsets arrive in EEG samples; convert to display frames.
	rescaled := make([]float64, len(trialOnsets))
	for i, o := range trialOnsets {
		rescaled[i] = math.Ceil(float64(o) * RefreshRate / sfreq)
	}

	seqMin-- // 1-based
	framesPerTrial := (TrialDuration - windowSize) * RefreshRate
	lastTrial := seqMax - 1 - seqMin

	st := realignState{onsetShift: rescaled[seqMin]}
	for i, idx := range frameIdx {
		fo := float64(idx)
		// Once the frame lands past the end of the current trial, advance
		// and re-anchor the shift on the next trial's measured onset. The
		// last trial in range is never advanced past.
		if st.currentTrial != lastTrial && fo+st.onsetShift >= rescaled[st.currentTrial+seqMin]+framesPerTrial {
			st.currentTrial++
			st.onsetShift = rescaled[st.currentTrial+seqMin] - framesPerTrial*float64(st.currentTrial)
		}
		if frameLabels[i] == 1 {
			on = append(on, fo+st.onsetShift)
		} else {
			off = append(off, fo+st.onsetShift)
		}
	}

	// A boundary frame can land on the same absolute onset as an "on"
	// frame; drop such duplicates from the "off" sequence.
	onValues := make(map[float64]struct{}, len(on))
	for _, v := range on {
		onValues[v] = struct{}{}
	}
	kept := off[:0]
	for _, v := range off {
		if _, dup := onValues[v]; !dup {
			kept = append(kept, v)
		}
	}
	off = kept

	for i := range on {
		on[i] /= RefreshRate
	}
	for i := range off {
		off[i] /= RefreshRate
	}
	return on, off, nil
}
