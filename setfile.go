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
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf16"
)

// EEGLAB .set files are MAT v5 containers holding a single "EEG" struct (or,
// for older EEGLAB versions, its fields as top-level variables). Only the
// subset of the format that EEGLAB emits is supported: little-endian files
// with zlib-compressed elements and numeric, character and struct arrays.

// MAT v5 data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
)

// MAT v5 array classes.
const (
	mxCell   = 1
	mxStruct = 2
	mxChar   = 4
	mxDouble = 6
	mxSingle = 7
	mxInt8   = 8
	mxUint8  = 9
	mxInt16  = 10
	mxUint16 = 11
	mxInt32  = 12
	mxUint32 = 13
)

// arrayFlagComplex marks an array as having an imaginary part.
const arrayFlagComplex = 0x0800

// matArray is a parsed MAT v5 array.
type matArray struct {
	class  uint32
	dims   []int
	name   string
	num    []float64              // Numeric payload, column-major
	str    string                 // Character payload
	fields map[string][]*matArray // Struct payload, one entry per array element
	cells  []*matArray            // Cell payload
}

func (a *matArray) numElems() int {
	n := 1
	for _, d := range a.dims {
		n *= d
	}
	return n
}

// matReader walks the data elements of a MAT v5 byte stream.
type matReader struct {
	b   []byte
	pos int
}

func (r *matReader) more() bool {
	return r.pos+8 <= len(r.b)
}

// element reads the next data element, handling both the regular and the
// packed small element layout.
func (r *matReader) element() (uint32, []byte, error) {
	if !r.more() {
		return 0, nil, io.ErrUnexpectedEOF
	}

	word := binary.LittleEndian.Uint32(r.b[r.pos:])
	if word>>16 != 0 {
		// Small data element: type and size share the tag word, the
		// payload sits in the second word.
		typ := word & 0xFFFF
		size := int(word >> 16)
		if size > 4 {
			return 0, nil, fmt.Errorf("small element of %d bytes", size)
		}
		data := r.b[r.pos+4 : r.pos+4+size]
		r.pos += 8
		return typ, data, nil
	}

	typ := word
	size := int(binary.LittleEndian.Uint32(r.b[r.pos+4:]))
	start := r.pos + 8
	if start+size > len(r.b) {
		return 0, nil, fmt.Errorf("element of %d bytes overruns file", size)
	}
	data := r.b[start : start+size]
	r.pos = start + size
	// Elements are padded to 8-byte boundaries.
	if rem := r.pos % 8; rem != 0 {
		r.pos += 8 - rem
		if r.pos > len(r.b) {
			r.pos = len(r.b)
		}
	}
	return typ, data, nil
}

// numbers decodes a numeric element payload into float64s.
func numbers(typ uint32, data []byte) ([]float64, error) {
	width := map[uint32]int{
		miINT8: 1, miUINT8: 1,
		miINT16: 2, miUINT16: 2,
		miINT32: 4, miUINT32: 4,
		miSINGLE: 4, miDOUBLE: 8,
		miINT64: 8, miUINT64: 8,
	}[typ]
	if width == 0 {
		return nil, fmt.Errorf("unsupported numeric element type %d", typ)
	}

	out := make([]float64, len(data)/width)
	for i := range out {
		b := data[i*width:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case miUINT16:
			out[i] = float64(binary.LittleEndian.Uint16(b))
		case miINT32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case miUINT32:
			out[i] = float64(binary.LittleEndian.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case miINT64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case miUINT64:
			out[i] = float64(binary.LittleEndian.Uint64(b))
		}
	}
	return out, nil
}

// characters decodes a character element payload.
func characters(typ uint32, data []byte) (string, error) {
	switch typ {
	case miINT8, miUINT8, miUTF8:
		return string(data), nil
	case miUINT16, miUTF16:
		u := make([]uint16, len(data)/2)
		for i := range u {
			u[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return string(utf16.Decode(u)), nil
	default:
		return "", fmt.Errorf("unsupported character element type %d", typ)
	}
}

// parseMatrix parses a miMATRIX element payload.
func parseMatrix(data []byte) (*matArray, error) {
	r := &matReader{b: data}

	typ, flagData, err := r.element()
	if err != nil {
		return nil, fmt.Errorf("error reading array flags: %w", err)
	}
	if typ != miUINT32 || len(flagData) < 4 {
		return nil, fmt.Errorf("malformed array flags element")
	}
	flags := binary.LittleEndian.Uint32(flagData)
	arr := &matArray{class: flags & 0xFF}
	if flags&arrayFlagComplex != 0 {
		return nil, fmt.Errorf("complex arrays are not supported")
	}

	_, dimData, err := r.element()
	if err != nil {
		return nil, fmt.Errorf("error reading dimensions: %w", err)
	}
	dims, err := numbers(miINT32, dimData)
	if err != nil {
		return nil, fmt.Errorf("error reading dimensions: %w", err)
	}
	arr.dims = make([]int, len(dims))
	for i, d := range dims {
		arr.dims[i] = int(d)
	}

	_, nameData, err := r.element()
	if err != nil {
		return nil, fmt.Errorf("error reading array name: %w", err)
	}
	arr.name = string(nameData)

	switch arr.class {
	case mxChar:
		typ, charData, err := r.element()
		if err != nil {
			return nil, fmt.Errorf("array %q: error reading characters: %w", arr.name, err)
		}
		arr.str, err = characters(typ, charData)
		if err != nil {
			return nil, fmt.Errorf("array %q: %w", arr.name, err)
		}

	case mxStruct:
		if err := parseStruct(r, arr); err != nil {
			return nil, fmt.Errorf("array %q: %w", arr.name, err)
		}

	case mxCell:
		n := arr.numElems()
		arr.cells = make([]*matArray, 0, n)
		for i := 0; i < n; i++ {
			cell, err := parseSubMatrix(r)
			if err != nil {
				return nil, fmt.Errorf("array %q cell %d: %w", arr.name, i, err)
			}
			arr.cells = append(arr.cells, cell)
		}

	case mxDouble, mxSingle, mxInt8, mxUint8, mxInt16, mxUint16, mxInt32, mxUint32:
		typ, numData, err := r.element()
		if err != nil {
			return nil, fmt.Errorf("array %q: error reading data: %w", arr.name, err)
		}
		arr.num, err = numbers(typ, numData)
		if err != nil {
			return nil, fmt.Errorf("array %q: %w", arr.name, err)
		}

	default:
		return nil, fmt.Errorf("array %q has unsupported class %d", arr.name, arr.class)
	}

	return arr, nil
}

// parseStruct parses the field names and per-element field values of a
// struct array.
func parseStruct(r *matReader, arr *matArray) error {
	_, lenData, err := r.element()
	if err != nil {
		return fmt.Errorf("error reading field name length: %w", err)
	}
	lens, err := numbers(miINT32, lenData)
	if err != nil || len(lens) != 1 {
		return fmt.Errorf("malformed field name length element")
	}
	nameLen := int(lens[0])
	if nameLen <= 0 {
		return fmt.Errorf("invalid field name length %d", nameLen)
	}

	_, namesData, err := r.element()
	if err != nil {
		return fmt.Errorf("error reading field names: %w", err)
	}
	var names []string
	for off := 0; off+nameLen <= len(namesData); off += nameLen {
		names = append(names, string(bytes.TrimRight(namesData[off:off+nameLen], "\x00")))
	}

	n := arr.numElems()
	arr.fields = make(map[string][]*matArray, len(names))
	for elem := 0; elem < n; elem++ {
		for _, name := range names {
			field, err := parseSubMatrix(r)
			if err != nil {
				return fmt.Errorf("field %q of element %d: %w", name, elem, err)
			}
			arr.fields[name] = append(arr.fields[name], field)
		}
	}
	return nil
}

// parseSubMatrix reads one nested miMATRIX element. Empty elements yield nil.
func parseSubMatrix(r *matReader) (*matArray, error) {
	typ, data, err := r.element()
	if err != nil {
		return nil, err
	}
	if typ != miMATRIX {
		return nil, fmt.Errorf("expected matrix element, got type %d", typ)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return parseMatrix(data)
}

// parseMatFile parses the top-level variables of a MAT v5 file.
func parseMatFile(b []byte) (map[string]*matArray, error) {
	if len(b) < 128 {
		return nil, fmt.Errorf("file too short for a MAT header")
	}
	if string(b[126:128]) != "IM" {
		return nil, fmt.Errorf("big-endian MAT files are not supported")
	}

	vars := make(map[string]*matArray)
	r := &matReader{b: b, pos: 128}
	for r.more() {
		typ, data, err := r.element()
		if err != nil {
			return nil, fmt.Errorf("error reading data element: %w", err)
		}

		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("error decompressing element: %w", err)
			}
			inner, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("error decompressing element: %w", err)
			}
			ir := &matReader{b: inner}
			typ, data, err = ir.element()
			if err != nil {
				return nil, fmt.Errorf("error reading compressed element: %w", err)
			}
		}

		if typ != miMATRIX || len(data) == 0 {
			continue
		}
		arr, err := parseMatrix(data)
		if err != nil {
			return nil, err
		}
		vars[arr.name] = arr
	}
	return vars, nil
}

// setFields gives access to the fields of the EEG structure, whether it was
// saved as a single struct variable or as separate top-level variables.
type setFields map[string]*matArray

func (f setFields) get(name string) (*matArray, error) {
	arr, ok := f[name]
	if !ok || arr == nil {
		return nil, fmt.Errorf("recording has no %q field", name)
	}
	return arr, nil
}

func (f setFields) scalar(name string) (float64, error) {
	arr, err := f.get(name)
	if err != nil {
		return 0, err
	}
	if len(arr.num) == 0 {
		return 0, fmt.Errorf("field %q is not a numeric scalar", name)
	}
	return arr.num[0], nil
}

// structElem returns the fields of one element of a struct array.
func structElem(arr *matArray, elem int) setFields {
	out := make(setFields, len(arr.fields))
	for name, vals := range arr.fields {
		if elem < len(vals) {
			out[name] = vals[elem]
		}
	}
	return out
}

// ReadSetFile reads an EEGLAB .set recording into a Raw. Sample data stored
// in a sidecar .fdt file next to the .set file is picked up transparently.
func ReadSetFile(path string) (*Raw, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	vars, err := parseMatFile(b)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	fields := setFields(vars)
	if eeg, ok := vars["EEG"]; ok && eeg.fields != nil {
		fields = structElem(eeg, 0)
	}

	srate, err := fields.scalar("srate")
	if err != nil {
		return nil, err
	}
	if srate <= 0 {
		return nil, fmt.Errorf("recording claims sampling rate %v", srate)
	}
	nbchan, err := fields.scalar("nbchan")
	if err != nil {
		return nil, err
	}
	pnts, err := fields.scalar("pnts")
	if err != nil {
		return nil, err
	}

	data, err := readSetData(fields, path, int(nbchan), int(pnts))
	if err != nil {
		return nil, err
	}

	raw := &Raw{
		SFreq: srate,
		Data:  data,
	}
	raw.ChannelNames, raw.ChannelTypes = readChannelInfo(fields, int(nbchan))
	raw.Annotations, err = readEvents(fields, srate)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// readSetData extracts the channels x samples matrix, either embedded in the
// .set file or from a sidecar .fdt file.
func readSetData(fields setFields, setPath string, nbchan, pnts int) ([][]float64, error) {
	arr, err := fields.get("data")
	if err != nil {
		return nil, err
	}

	if nbchan <= 0 || pnts <= 0 {
		return nil, fmt.Errorf("recording claims %d channels x %d samples", nbchan, pnts)
	}

	if arr.class == mxChar {
		fdt := filepath.Join(filepath.Dir(setPath), filepath.Base(arr.str))
		return readFdt(fdt, nbchan, pnts)
	}

	if extra := arr.numElems() / (nbchan * pnts); len(arr.dims) > 2 && extra != 1 {
		return nil, fmt.Errorf("epoched recordings are not supported (data has %d trials)", extra)
	}
	if len(arr.num) < nbchan*pnts {
		return nil, fmt.Errorf("data holds %d values, expected %d", len(arr.num), nbchan*pnts)
	}

	// MAT arrays are column-major with dimensions (channels, samples).
	data := make([][]float64, nbchan)
	for ch := range data {
		row := make([]float64, pnts)
		for t := range row {
			row[t] = arr.num[t*nbchan+ch]
		}
		data[ch] = row
	}
	return data, nil
}

// readFdt reads a sidecar sample file: float32 little-endian values,
// column-major with dimensions (channels, samples).
func readFdt(path string, nbchan, pnts int) ([][]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading sample data: %w", err)
	}
	if len(b) < nbchan*pnts*4 {
		return nil, fmt.Errorf("%s holds %d bytes, expected %d", path, len(b), nbchan*pnts*4)
	}

	data := make([][]float64, nbchan)
	for ch := range data {
		row := make([]float64, pnts)
		for t := range row {
			bits := binary.LittleEndian.Uint32(b[(t*nbchan+ch)*4:])
			row[t] = float64(math.Float32frombits(bits))
		}
		data[ch] = row
	}
	return data, nil
}

// readChannelInfo extracts channel names from chanlocs, falling back to
// generated names when the montage is absent.
func readChannelInfo(fields setFields, nbchan int) ([]string, []ChannelType) {
	names := make([]string, nbchan)
	types := make([]ChannelType, nbchan)
	chanlocs, _ := fields.get("chanlocs")
	for ch := 0; ch < nbchan; ch++ {
		types[ch] = ChannelEEG
		names[ch] = fmt.Sprintf("EEG%03d", ch+1)
		if chanlocs != nil && chanlocs.fields != nil {
			if labels := chanlocs.fields["labels"]; ch < len(labels) && labels[ch] != nil {
				names[ch] = labels[ch].str
			}
		}
	}
	return names, types
}

// readEvents converts the EEG.event struct array into annotations. EEGLAB
// latencies are 1-based sample positions.
func readEvents(fields setFields, srate float64) ([]Annotation, error) {
	events, err := fields.get("event")
	if err != nil {
		// A recording without events is still usable.
		return nil, nil
	}
	if events.fields == nil {
		return nil, nil
	}

	n := events.numElems()
	annotations := make([]Annotation, 0, n)
	for i := 0; i < n; i++ {
		elem := structElem(events, i)

		latency, err := elem.scalar("latency")
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}

		typ, err := elem.get("type")
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		desc := typ.str
		if typ.class != mxChar {
			if len(typ.num) == 0 {
				return nil, fmt.Errorf("event %d: empty type", i)
			}
			desc = fmt.Sprintf("%g", typ.num[0])
		}

		annotations = append(annotations, Annotation{
			Onset:       (latency - 1) / srate,
			Description: desc,
		})
	}

	sort.SliceStable(annotations, func(i, j int) bool {
		return annotations[i].Onset < annotations[j].Onset
	})
	return annotations, nil
}
