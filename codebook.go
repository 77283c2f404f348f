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
	"strings"
)

// codeFillerSymbols are characters that appear inside the code half of an
// annotation description but carry no bit value: the presentation software
// pads codes with literal '2' filler symbols, and '.' separators survive
// from its array formatting. Both are stripped before the code is parsed.
const codeFillerSymbols = ".2"

// ParseCodebook converts an annotation description to event-id mapping into
// a codebook. Each description has the form "<code>_<label>" where <code> is
// the binary flicker sequence presented for that class. The resulting map is
// keyed by id-1 so that class indices are 0-based.
func ParseCodebook(eventID map[string]int) (Codebook, error) {
	codes := make(Codebook, len(eventID))
	for desc, id := range eventID {
		code, _, _ := strings.Cut(desc, "_")
		for _, filler := range codeFillerSymbols {
			code = strings.ReplaceAll(code, string(filler), "")
		}

		bits := make([]int, len(code))
		for i, c := range code {
			switch c {
			case '0':
				bits[i] = 0
			case '1':
				bits[i] = 1
			default:
				return nil, fmt.Errorf("code for event %q contains non-binary character %q", desc, c)
			}
		}
		codes[id-1] = bits
	}
	return codes, nil
}
