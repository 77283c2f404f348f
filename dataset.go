// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package cvep loads the Castillos et al. (2023) 4-class code-modulated
// visual evoked potential EEG dataset into an annotated in-memory
// representation, slicing continuous recordings into per-frame analysis
// windows aligned to the known binary stimulation codes.
//
// The recordings are published on Zenodo (https://zenodo.org/records/8255618)
// and described in Castillos et al., "Burst c-VEP Based BCI: Optimizing
// stimulus design for enhanced classification with minimal calibration data
// and improved user experience", NeuroImage 284 (2023),
// https://doi.org/10.1016/j.neuroimage.2023.120446.
package cvep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Recording protocol of the Castillos2023 study.
const (
	// SamplingRate is the EEG amplifier sampling rate in Hz.
	SamplingRate = 500
	// RefreshRate is the refresh rate of the stimulation display in Hz.
	RefreshRate = 60
	// NumChannels is the number of EEG electrodes.
	NumChannels = 32
	// TrialDuration is the stimulation phase of a trial in seconds.
	TrialDuration = 2.2
	// TrialsPerClass is the number of trials recorded per class.
	TrialsPerClass = 15
	// DefaultWindowSize is the default analysis window in seconds.
	DefaultWindowSize = 0.25
)

// ArchiveURL is the Zenodo archive holding all subject recordings.
const ArchiveURL = "https://zenodo.org/records/8255618/files/4Class-CVEP.zip"

// archiveFolder is the directory the archive extracts to.
const archiveFolder = "4Class-CVEP"

// ErrInvalidSubject is returned for subject numbers outside the dataset.
var ErrInvalidSubject = fmt.Errorf("invalid subject number")

// Dataset describes one stimulation paradigm variant of the Castillos2023
// study. All four variants share the same subjects, geometry and archive.
type Dataset struct {
	Code         string         // Identifier of the variant
	Paradigm     string         // Always "cvep"
	ParadigmType string         // Recording file suffix (burst100, mseq40, ...)
	Events       map[string]int // Annotation description to marker value
	Subjects     []int          // Valid subject numbers
	Interval     [2]float64     // Analysis interval relative to a frame onset
	WindowSize   float64        // Analysis window in seconds
	DOI          string         // Publication DOI

	// CacheDir overrides the directory the archive is downloaded and
	// extracted into. Defaults to a "cvep" directory under the user cache.
	CacheDir string
}

func newDataset(code, paradigmType string, events map[string]int) *Dataset {
	subjects := make([]int, 12)
	for i := range subjects {
		subjects[i] = i + 1
	}
	return &Dataset{
		Code:         code,
		Paradigm:     "cvep",
		ParadigmType: paradigmType,
		Events:       events,
		Subjects:     subjects,
		Interval:     [2]float64{0, DefaultWindowSize},
		WindowSize:   DefaultWindowSize,
		DOI:          "https://doi.org/10.1016/j.neuroimage.2023.120446",
	}
}

// BurstVEP100 is the burst c-VEP variant at 100% stimulus amplitude.
func BurstVEP100() *Dataset {
	return newDataset("CastillosBurstVEP100", "burst100", map[string]int{"0": 100, "1": 101})
}

// BurstVEP40 is the burst c-VEP variant at 40% stimulus amplitude.
func BurstVEP40() *Dataset {
	return newDataset("CastillosBurstVEP40", "burst40", map[string]int{"0": 1, "1": 2})
}

// CVEP100 is the m-sequence variant at 100% stimulus amplitude.
func CVEP100() *Dataset {
	return newDataset("CastillosCVEP100", "mseq100", map[string]int{"0": 0, "1": 1})
}

// CVEP40 is the m-sequence variant at 40% stimulus amplitude.
func CVEP40() *Dataset {
	return newDataset("CastillosCVEP40", "mseq40", map[string]int{
		"111111111111110000111100001111000011001111001100001100111111000000110011111100001100110000001111001100000011001100001100000000001100_1": 1,
		"000011110000000011111111110000000000001111000011001100110011110011000000110000001111110011001111111111000011000000111100001100111111_2": 2,
		"111100000000110000111100000000000011001111001100110011000000111111001111110011001111000000111100111111000000000011111100001100110011_3": 3,
		"111100111100111100111100000011111100000011111111110000110011000011110000000011000000001111111111110011001100001111000011000000110011_4": 4,
	})
}

// DataPath returns the recording file for a subject, downloading and
// extracting the dataset archive on first use.
func (d *Dataset) DataPath(ctx context.Context, subject int) (string, error) {
	if !d.validSubject(subject) {
		return "", fmt.Errorf("%w: %d", ErrInvalidSubject, subject)
	}

	dir := d.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("error locating cache directory: %w", err)
		}
		dir = filepath.Join(base, "cvep")
	}

	root, err := fetchArchive(ctx, ArchiveURL, dir, archiveFolder)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("P%d_%s.set", subject, d.ParadigmType)
	return filepath.Join(root, fmt.Sprintf("P%d", subject), name), nil
}

func (d *Dataset) validSubject(subject int) bool {
	for _, s := range d.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// LoadSubject loads, annotates and re-references the recording of a single
// subject. It returns the session structure (a single session with a single
// run) together with the codebook parsed from the recording's annotations.
func (d *Dataset) LoadSubject(ctx context.Context, subject int) (Sessions, Codebook, error) {
	path, err := d.DataPath(ctx, subject)
	if err != nil {
		return nil, nil, err
	}

	raw, err := ReadSetFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading recording: %w", err)
	}

	return d.BuildSession(raw)
}

// BuildSession runs the annotation, windowing and realignment pipeline over
// a raw recording, yielding the final session structure and the codebook
// parsed from the recording's annotations. Useful when a recording has
// already been obtained outside of LoadSubject.
func (d *Dataset) BuildSession(raw *Raw) (Sessions, Codebook, error) {
	if err := CleanAnnotations(raw); err != nil {
		return nil, nil, err
	}

	events, eventID, err := EventsFromAnnotations(raw)
	if err != nil {
		return nil, nil, err
	}

	trials, labels, onsets, err := SegmentEpochs(raw, events, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(trials) == 0 {
		return nil, nil, fmt.Errorf("recording contains no stimulation epochs")
	}

	codes, err := ParseCodebook(eventID)
	if err != nil {
		return nil, nil, err
	}

	windowSamples := int(d.WindowSize * raw.SFreq)
	fw, err := WindowByFrame(trials, labels, codes, d.WindowSize, windowSamples, WindowOptions{})
	if err != nil {
		return nil, nil, err
	}

	on, off, err := RealignOnsets(fw.Index, fw.Y, onsets, 1, len(trials), d.WindowSize, raw.SFreq)
	if err != nil {
		return nil, nil, err
	}

	// Trial markers: 200 = class 0, 201 = class 1, etc.
	if err := AddStimChannelTrial(raw, onsets, labels, TrialMarkerOffset, "stim_trial"); err != nil {
		return nil, nil, err
	}

	// Frame markers: 100 = off, 101 = on.
	frameOnsets := make([]float64, 0, len(on)+len(off))
	frameOnsets = append(frameOnsets, on...)
	frameOnsets = append(frameOnsets, off...)
	frameLabels := make([]int, len(frameOnsets))
	for i := range on {
		frameLabels[i] = 1
	}
	if err := AddStimChannelEpoch(raw, frameOnsets, frameLabels, EpochMarkerOffset, "stim_epoch"); err != nil {
		return nil, nil, err
	}

	SetAverageReference(raw)

	sessions := Sessions{"0": {"0": raw}}
	return sessions, codes, nil
}
