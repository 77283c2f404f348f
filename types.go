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

// ChannelType identifies what a recording channel carries.
type ChannelType string

const (
	// ChannelEEG is a scalp electrode channel.
	ChannelEEG ChannelType = "eeg"
	// ChannelStim is a synthesized stimulus marker channel.
	ChannelStim ChannelType = "stim"
)

// Annotation is a timestamped text marker embedded in a recording.
type Annotation struct {
	Onset       float64 // Seconds from the start of the recording
	Description string  // Marker text, e.g. "<code>_<label>"
}

// Raw is a continuous multichannel recording with its annotations.
type Raw struct {
	ChannelNames []string      // Label of each channel (e.g. Oz, POz)
	ChannelTypes []ChannelType // Kind of each channel
	SFreq        float64       // Sampling rate in Hz
	Data         [][]float64   // One row of samples per channel
	Annotations  []Annotation  // Markers, ordered by onset
}

// NSamples returns the number of samples per channel.
func (r *Raw) NSamples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// AddChannel appends a channel to the recording. The new channel must have
// the same number of samples as the existing ones.
func (r *Raw) AddChannel(name string, typ ChannelType, samples []float64) error {
	if len(r.Data) > 0 && len(samples) != r.NSamples() {
		return fmt.Errorf("channel %q has %d samples, recording has %d", name, len(samples), r.NSamples())
	}
	r.ChannelNames = append(r.ChannelNames, name)
	r.ChannelTypes = append(r.ChannelTypes, typ)
	r.Data = append(r.Data, samples)
	return nil
}

// Event is a stimulation marker resolved to a sample position.
type Event struct {
	Sample int // Onset in samples from the start of the recording
	Code   int // Event identifier, as assigned by EventsFromAnnotations
}

// Trial is the signal extracted around one stimulation event, one row of
// samples per channel.
type Trial [][]float64

// Codebook maps a 0-based class index to the binary flicker code presented
// for that class, one bit per display frame.
type Codebook map[int][]int

// Sessions maps session ids to run ids to the annotated recording for that
// run. The Castillos2023 recordings have a single session with a single run.
type Sessions map[string]map[string]*Raw
