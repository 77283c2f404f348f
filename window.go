// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cvep

import "fmt"

// risingEdgeFrames is the number of frames marked after each 0->1 code
// transition when focusing on rising edges. A flash response spans roughly
// four display frames at 60 Hz.
const risingEdgeFrames = 4

// WindowOptions control how FrameWindows are produced.
type WindowOptions struct {
	// Offset is the time in seconds after the trial onset at which the
	// first frame is taken.
	Offset float64
	// FocusRising marks only the short flash window following each 0->1
	// code transition instead of the raw code bit of every frame.
	FocusRising bool
}

// FrameWindows holds one fixed-length training window per display frame
// across all trials, in trial-major, frame-minor order.
type FrameWindows struct {
	X     [][][]float32 // Per frame: channels x window samples
	Y     []int         // Per frame: expected code bit (or flash marker)
	Index []int         // Per frame: trial*FramesPerTrial + frame
}

// FramesPerTrial returns the number of analysis frames that fit in one
// trial for the given window size in seconds.
func FramesPerTrial(windowSize float64) int {
	return int((TrialDuration - windowSize) * RefreshRate)
}

// WindowByFrame slices each trial into one window per display frame and tags
// every window with the code bit expected at that frame. windowSize is the
// window duration in seconds and windowSamples its length in EEG samples.
func WindowByFrame(trials []Trial, labels []int, codes Codebook, windowSize float64, windowSamples int, opts WindowOptions) (*FrameWindows, error) {
	if len(labels) != len(trials) {
		return nil, fmt.Errorf("got %d labels for %d trials", len(labels), len(trials))
	}

	length := FramesPerTrial(windowSize)
	n := length * len(trials)
	fw := &FrameWindows{
		X:     make([][][]float32, 0, n),
		Y:     make([]int, 0, n),
		Index: make([]int, 0, n),
	}

	for trialNb, trial := range trials {
		code, ok := codes[labels[trialNb]]
		if !ok {
			return nil, fmt.Errorf("trial %d: no code for class %d", trialNb, labels[trialNb])
		}

		// The code is already sampled at the display rate, so upsampling is
		// 1:1 here. Kept so codes presented below the refresh rate can be
		// stretched to the frame domain.
		upsampled := repeatBits(code, RefreshRate/RefreshRate)
		padded := append(make([]int, int(opts.Offset*RefreshRate)), upsampled...)

		var frameLabels []int
		if opts.FocusRising {
			frameLabels = focusRisingEdges(padded, length)
		} else {
			frameLabels = padded
		}
		if len(frameLabels) < length {
			return nil, fmt.Errorf("trial %d: code provides %d frame labels, need %d", trialNb, len(frameLabels), length)
		}

		for idx := 0; idx < length; idx++ {
			win, err := sliceWindow(trial, idx, windowSamples)
			if err != nil {
				return nil, fmt.Errorf("trial %d frame %d: %w", trialNb, idx, err)
			}
			fw.X = append(fw.X, win)
			fw.Y = append(fw.Y, frameLabels[idx])
			fw.Index = append(fw.Index, trialNb*length+idx)
		}
	}

	return fw, nil
}

// sliceWindow copies windowSamples samples of every channel starting at the
// given sample offset, converting to float32.
func sliceWindow(trial Trial, start, windowSamples int) ([][]float32, error) {
	win := make([][]float32, len(trial))
	for ch, row := range trial {
		if start+windowSamples > len(row) {
			return nil, fmt.Errorf("window [%d:%d) overruns trial of %d samples", start, start+windowSamples, len(row))
		}
		w := make([]float32, windowSamples)
		for s, v := range row[start : start+windowSamples] {
			w[s] = float32(v)
		}
		win[ch] = w
	}
	return win, nil
}

// focusRisingEdges rewrites a frame label sequence so that only the
// risingEdgeFrames frames following each 0->1 transition are marked. Marker
// windows that run past length are clipped.
func focusRisingEdges(padded []int, length int) []int {
	focused := make([]int, length)
	for idx := 1; idx < len(padded); idx++ {
		if padded[idx-1] == 0 && padded[idx] == 1 {
			for j := idx; j < idx+risingEdgeFrames && j < length; j++ {
				focused[j] = 1
			}
		}
	}
	return focused
}

// repeatBits repeats every bit of the code factor times.
func repeatBits(code []int, factor int) []int {
	if factor <= 1 {
		out := make([]int, len(code))
		copy(out, code)
		return out
	}
	out := make([]int, 0, len(code)*factor)
	for _, b := range code {
		for i := 0; i < factor; i++ {
			out = append(out, b)
		}
	}
	return out
}
