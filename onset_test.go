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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealignOnsetsExample(t *testing.T) {
	// Trial 0 starts at sample 1000 of a 500 Hz recording, which rescales
	// to ceil(1000*60/500) = 120 display frames.
	on, off, err := cvep.RealignOnsets(
		[]int{0, 1, 2},
		[]int{1, 0, 1},
		[]int{1000, 2000},
		1, 2, 0.25, 500,
	)
	require.NoError(t, err)

	require.Len(t, on, 2)
	assert.InDelta(t, 120.0/60, on[0], 1e-12)
	assert.InDelta(t, 122.0/60, on[1], 1e-12)

	require.Len(t, off, 1)
	assert.InDelta(t, 121.0/60, off[0], 1e-12)
}

func TestRealignOnsetsZeroSamplingRate(t *testing.T) {
	_, _, err := cvep.RealignOnsets([]int{0}, []int{1}, []int{100}, 1, 1, 0.25, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling rate")
}

func TestRealignOnsetsRangeValidation(t *testing.T) {
	_, _, err := cvep.RealignOnsets([]int{0}, []int{1}, []int{100}, 1, 2, 0.25, 500)
	require.Error(t, err)

	_, _, err = cvep.RealignOnsets([]int{0}, []int{1, 0}, []int{100}, 1, 1, 0.25, 500)
	require.Error(t, err, "label count mismatch")
}

func TestRealignOnsetsPartition(t *testing.T) {
	const framesPerTrial = 117 // (2.2 - 0.25) * 60

	// Two trials of alternating labels.
	var frameIdx, frameLabels []int
	for i := 0; i < 2*framesPerTrial; i++ {
		frameIdx = append(frameIdx, i)
		frameLabels = append(frameLabels, i%2)
	}

	on, off, err := cvep.RealignOnsets(frameIdx, frameLabels, []int{500, 1750}, 1, 2, 0.25, 500)
	require.NoError(t, err)

	// The two sequences are disjoint by value and jointly cover all frames.
	seen := make(map[float64]string)
	for _, v := range on {
		seen[v] = "on"
	}
	for _, v := range off {
		_, dup := seen[v]
		require.False(t, dup, "onset %v in both sequences", v)
		seen[v] = "off"
	}
	assert.Equal(t, 2*framesPerTrial, len(on)+len(off))
}

func TestRealignOnsetsReanchorsAtTrialBoundary(t *testing.T) {
	const framesPerTrial = 117

	var frameIdx, frameLabels []int
	for i := 0; i < 2*framesPerTrial; i++ {
		frameIdx = append(frameIdx, i)
		frameLabels = append(frameLabels, 1)
	}

	// Trial 1 starts at sample 1010, i.e. frame ceil(1010*60/500) = 122,
	// five frames later than the nominal 117-frame trial length.
	on, _, err := cvep.RealignOnsets(frameIdx, frameLabels, []int{0, 1010}, 1, 2, 0.25, 500)
	require.NoError(t, err)
	require.Len(t, on, 2*framesPerTrial)

	// Trial 0 frames are anchored on its own onset.
	assert.InDelta(t, 0.0, on[0]*60, 1e-9)
	assert.InDelta(t, float64(framesPerTrial-1), on[framesPerTrial-1]*60, 1e-9)

	// The first frame of trial 1 lands exactly on its measured onset
	// instead of accumulating the nominal trial length.
	assert.InDelta(t, 122.0, on[framesPerTrial]*60, 1e-9)
	assert.InDelta(t, 122.0+float64(framesPerTrial-1), on[2*framesPerTrial-1]*60, 1e-9)

	// Onsets are non-decreasing in frame order.
	for i := 1; i < len(on); i++ {
		require.GreaterOrEqual(t, on[i], on[i-1])
	}
}
