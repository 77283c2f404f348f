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
	"log"
	"math"
	"sort"
	"strings"
)

// descReplacer strips the array formatting that the presentation script
// leaves in the code half of an annotation description.
var descReplacer = strings.NewReplacer("\n", "", "[", "", "]", "", " ", "")

// CleanAnnotations normalizes the scripted annotations of a recording in
// place. Bookkeeping annotations ("collects", "iti", "[]") are dropped and
// the remaining descriptions are reduced to "<code>_<label>" form.
func CleanAnnotations(raw *Raw) error {
	kept := raw.Annotations[:0]
	for _, a := range raw.Annotations {
		if strings.Contains(a.Description, "collects") ||
			strings.Contains(a.Description, "iti") ||
			a.Description == "[]" {
			continue
		}
		parts := strings.Split(a.Description, "_")
		if len(parts) < 2 {
			return fmt.Errorf("annotation at %.3fs: description %q is not of the form <code>_<label>", a.Onset, a.Description)
		}
		a.Description = descReplacer.Replace(parts[0]) + "_" + parts[1]
		kept = append(kept, a)
	}
	raw.Annotations = kept
	return nil
}

// EventsFromAnnotations resolves each annotation to a (sample, event id)
// pair. Event ids are assigned from 1 in lexicographic order of the unique
// descriptions, so equal descriptions share an id.
func EventsFromAnnotations(raw *Raw) ([]Event, map[string]int, error) {
	if raw.SFreq <= 0 {
		return nil, nil, fmt.Errorf("recording has invalid sampling rate %v", raw.SFreq)
	}

	descs := make([]string, 0, len(raw.Annotations))
	seen := make(map[string]bool)
	for _, a := range raw.Annotations {
		if !seen[a.Description] {
			seen[a.Description] = true
			descs = append(descs, a.Description)
		}
	}
	sort.Strings(descs)

	eventID := make(map[string]int, len(descs))
	for i, d := range descs {
		eventID[d] = i + 1
	}

	events := make([]Event, len(raw.Annotations))
	for i, a := range raw.Annotations {
		events[i] = Event{
			Sample: int(math.Round(a.Onset * raw.SFreq)),
			Code:   eventID[a.Description],
		}
	}
	return events, eventID, nil
}

// SegmentEpochs extracts one trial per event, spanning shift to
// TrialDuration+shift seconds relative to the event sample. It returns the
// trials, their 0-based class labels and their onsets in samples. Events too
// close to the edges of the recording are dropped.
func SegmentEpochs(raw *Raw, events []Event, shift float64) ([]Trial, []int, []int, error) {
	if raw.SFreq <= 0 {
		return nil, nil, nil, fmt.Errorf("recording has invalid sampling rate %v", raw.SFreq)
	}
	nsamp := int(TrialDuration*raw.SFreq) + 1

	var eegRows []int
	for ch, typ := range raw.ChannelTypes {
		if typ == ChannelEEG {
			eegRows = append(eegRows, ch)
		}
	}

	var (
		trials []Trial
		labels []int
		onsets []int
	)
	for _, ev := range events {
		start := ev.Sample + int(shift*raw.SFreq)
		if start < 0 || start+nsamp > raw.NSamples() {
			log.Printf("dropping epoch at sample %d: outside the recording", ev.Sample)
			continue
		}
		trial := make(Trial, len(eegRows))
		for i, ch := range eegRows {
			row := make([]float64, nsamp)
			copy(row, raw.Data[ch][start:start+nsamp])
			trial[i] = row
		}
		trials = append(trials, trial)
		labels = append(labels, ev.Code)
		onsets = append(onsets, ev.Sample)
	}

	// Labels become 0-based class indices, matching the codebook keys.
	if len(labels) > 0 {
		minLabel := labels[0]
		for _, l := range labels {
			if l < minLabel {
				minLabel = l
			}
		}
		for i := range labels {
			labels[i] -= minLabel
		}
	}

	return trials, labels, onsets, nil
}
