// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wave provides the waveform containers filled by instrument
// drivers during acquisition.
//
// A waveform is a time-series of samples with per-sample offset and
// duration, expressed in integer timebase units. Regularly sampled data
// uses unit-width samples at consecutive offsets; RLE-compressed data
// from deep-memory captures may carry irregular offsets and durations.
package wave // import "github.com/l1g4v/scopehal/wave"

// Waveform holds the metadata common to all waveform flavors.
//
// Timescale is the duration of one timebase unit, in picoseconds.
// Sample offsets and durations are expressed in these units.
type Waveform struct {
	Timescale int64 // picoseconds per timebase unit

	StartTimestamp   int64 // acquisition start, rounded to the second
	StartPicoseconds int64 // sub-second part of the acquisition start

	// TriggerPhase is the offset, in picoseconds, from the trigger
	// point to the sampling clock.
	TriggerPhase float64

	Offsets   []int64 // start of each sample, in timebase units
	Durations []int64 // width of each sample, in timebase units
}

// Resize grows or shrinks the offset and duration sequences to n samples.
func (w *Waveform) Resize(n int) {
	w.Offsets = resize(w.Offsets, n)
	w.Durations = resize(w.Durations, n)
}

// FillDense assigns consecutive unit-width sample placements, the layout
// produced by a non-compressed capture.
func (w *Waveform) FillDense() {
	for i := range w.Offsets {
		w.Offsets[i] = int64(i)
	}
	for i := range w.Durations {
		w.Durations[i] = 1
	}
}

func resize(sli []int64, n int) []int64 {
	if cap(sli) < n {
		return make([]int64, n)
	}
	return sli[:n]
}

// Data is the interface shared by all waveform flavors; it exposes the
// common placement and timing metadata.
type Data interface {
	Meta() *Waveform
}

// Meta returns the common waveform metadata.
func (w *Waveform) Meta() *Waveform { return w }

// Analog is a waveform whose samples are physical values (volts, amps,
// dBm, ...) obtained from raw instrument codes through the affine
// transform declared in the capture preamble.
type Analog struct {
	Waveform
	Samples []float32
}

// Resize grows or shrinks the waveform to n samples.
func (w *Analog) Resize(n int) {
	w.Waveform.Resize(n)
	if cap(w.Samples) < n {
		w.Samples = make([]float32, n)
	}
	w.Samples = w.Samples[:n]
}

// Digital is a single-lane logic waveform.
type Digital struct {
	Waveform
	Samples []bool
}

// Resize grows or shrinks the waveform to n samples.
func (w *Digital) Resize(n int) {
	w.Waveform.Resize(n)
	if cap(w.Samples) < n {
		w.Samples = make([]bool, n)
	}
	w.Samples = w.Samples[:n]
}
