// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cvep_test

import (
	"testing"

	"github.com/OpenPSG/cvep"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticTrials builds nTrials trials of nChannels x nSamples with
// recognizable sample values.
func syntheticTrials(nTrials, nChannels, nSamples int) []cvep.Trial {
	trials := make([]cvep.Trial, nTrials)
	for tr := range trials {
		trial := make(cvep.Trial, nChannels)
		for ch := range trial {
			row := make([]float64, nSamples)
			for s := range row {
				row[s] = float64(tr*1000000 + ch*10000 + s)
			}
			trial[ch] = row
		}
		trials[tr] = trial
	}
	return trials
}

// repeatedCode builds an n-bit code by cycling the given pattern.
func repeatedCode(pattern []int, n int) []int {
	code := make([]int, n)
	for i := range code {
		code[i] = pattern[i%len(pattern)]
	}
	return code
}

func TestWindowByFrameCount(t *testing.T) {
	const (
		windowSize    = 0.25
		windowSamples = 125 // 0.25s at 500 Hz
		nTrials       = 3
	)
	trials := syntheticTrials(nTrials, 2, 1101)
	codes := cvep.Codebook{
		0: repeatedCode([]int{1, 0}, 132),
		1: repeatedCode([]int{1, 1, 0, 0}, 132),
	}
	labels := []int{0, 1, 0}

	fw, err := cvep.WindowByFrame(trials, labels, codes, windowSize, windowSamples, cvep.WindowOptions{})
	require.NoError(t, err)

	// floor((2.2 - 0.25) * 60) frames per trial.
	framesPerTrial := cvep.FramesPerTrial(windowSize)
	require.Equal(t, 117, framesPerTrial)
	require.Len(t, fw.X, framesPerTrial*nTrials)
	require.Len(t, fw.Y, framesPerTrial*nTrials)
	require.Len(t, fw.Index, framesPerTrial*nTrials)

	// Trial-major, frame-minor: the flat index is simply the emission order.
	for i, idx := range fw.Index {
		require.Equal(t, i, idx)
	}

	// Labels follow the codebook bit of the trial's class at each frame.
	for tr := 0; tr < nTrials; tr++ {
		code := codes[labels[tr]]
		for idx := 0; idx < framesPerTrial; idx++ {
			assert.Equal(t, code[idx], fw.Y[tr*framesPerTrial+idx])
		}
	}

	// Windows are the float32 slice of the trial starting at the frame index.
	win := fw.X[framesPerTrial+5] // trial 1, frame 5
	require.Len(t, win, 2)
	require.Len(t, win[0], windowSamples)
	assert.Equal(t, float32(1000000+5), win[0][0])
	assert.Equal(t, float32(1010000+5+windowSamples-1), win[1][windowSamples-1])
}

func TestWindowByFrameOffsetPadsLabels(t *testing.T) {
	trials := syntheticTrials(1, 1, 1101)
	codes := cvep.Codebook{0: repeatedCode([]int{1}, 132)}

	fw, err := cvep.WindowByFrame(trials, []int{0}, codes, 0.25, 125, cvep.WindowOptions{Offset: 0.05})
	require.NoError(t, err)

	// 0.05s at 60 Hz pads three zero labels before the all-ones code.
	want := repeatedCode([]int{1}, 117)
	want[0], want[1], want[2] = 0, 0, 0
	if diff := cmp.Diff(want, fw.Y); diff != "" {
		t.Errorf("unexpected frame labels (-want +got):\n%s", diff)
	}
}

func TestWindowByFrameFocusRising(t *testing.T) {
	// A window size of 2.025s leaves exactly 10 frames per trial, so the
	// flash marker of the second rising edge gets clipped at the end.
	const windowSize = 2.025
	require.Equal(t, 10, cvep.FramesPerTrial(windowSize))

	trials := syntheticTrials(1, 1, 30)
	codes := cvep.Codebook{0: {0, 0, 1, 1, 0, 0, 1, 0}}

	fw, err := cvep.WindowByFrame(trials, []int{0}, codes, windowSize, 5, cvep.WindowOptions{FocusRising: true})
	require.NoError(t, err)

	// Rising edges at frames 2 and 6 each mark a 4-frame flash window.
	want := []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	if diff := cmp.Diff(want, fw.Y); diff != "" {
		t.Errorf("unexpected focused labels (-want +got):\n%s", diff)
	}
}

func TestWindowByFrameErrors(t *testing.T) {
	trials := syntheticTrials(1, 1, 1101)
	codes := cvep.Codebook{0: repeatedCode([]int{1, 0}, 132)}

	_, err := cvep.WindowByFrame(trials, []int{0, 1}, codes, 0.25, 125, cvep.WindowOptions{})
	require.Error(t, err, "label count mismatch")

	_, err = cvep.WindowByFrame(trials, []int{7}, codes, 0.25, 125, cvep.WindowOptions{})
	require.Error(t, err, "unknown class")

	// A window that would overrun the trial's samples is rejected rather
	// than silently truncated.
	short := syntheticTrials(1, 1, 200)
	_, err = cvep.WindowByFrame(short, []int{0}, codes, 0.25, 125, cvep.WindowOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overruns")

	// A code shorter than the frame count cannot label every frame.
	shortCode := cvep.Codebook{0: repeatedCode([]int{1, 0}, 50)}
	_, err = cvep.WindowByFrame(trials, []int{0}, shortCode, 0.25, 125, cvep.WindowOptions{})
	require.Error(t, err)
}
