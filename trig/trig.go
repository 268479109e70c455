// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trig defines the vendor-neutral trigger model shared by
// instrument drivers.
//
// Each trigger kind is a plain record of source channel, level(s) and
// kind-specific slope/polarity/timing fields. Drivers translate these
// records to and from device command sequences; the records themselves
// perform no I/O.
package trig // import "github.com/l1g4v/scopehal/trig"

// Trigger is the closed set of trigger records. Drivers type-switch on
// the concrete kinds; the unexported marker keeps the set closed.
type Trigger interface {
	isTrigger()
}

func (Edge) isTrigger()       {}
func (PulseWidth) isTrigger() {}
func (Dropout) isTrigger()    {}
func (Runt) isTrigger()       {}
func (SlewRate) isTrigger()   {}
func (Window) isTrigger()     {}

// Slope selects which signal transition satisfies an edge condition.
type Slope int

const (
	Rising Slope = iota
	Falling
	AnyEdge
)

// Condition compares a measured quantity against configured bounds.
type Condition int

const (
	Less Condition = iota
	Greater
	Equal
	NotEqual
	Between
	OutsideRange
)

// WindowKind selects when a window trigger fires.
type WindowKind int

const (
	// EnterWindow fires when the signal enters the level window.
	EnterWindow WindowKind = iota
	// ExitWindow fires when the signal leaves the level window.
	ExitWindow
	// ExitWindowTimed fires when the signal stays outside the window
	// longer than the configured width.
	ExitWindowTimed
	// InsideWindowTimed fires when the signal stays inside the window
	// longer than the configured width.
	InsideWindowTimed
)

// Edge triggers on a level crossing of the source channel.
type Edge struct {
	Source int     // flat channel index
	Level  float64 // volts
	Slope  Slope
}

// PulseWidth triggers on a pulse whose width matches the condition.
// Bounds are in picoseconds.
type PulseWidth struct {
	Source     int
	Level      float64
	Slope      Slope
	Condition  Condition
	LowerBound int64
	UpperBound int64
}

// Dropout triggers when the source stays idle longer than WaitTime.
type Dropout struct {
	Source   int
	Level    float64
	Edge     Slope // polarity of the edge that resets the timer
	WaitTime int64 // picoseconds
}

// Runt triggers on a pulse crossing the lower level but not the upper.
type Runt struct {
	Source     int
	LowerLevel float64
	UpperLevel float64
	Slope      Slope
	Condition  Condition
	LowerBound int64 // picoseconds
	UpperBound int64 // picoseconds
}

// SlewRate triggers on a transition between two levels that is faster
// or slower than the configured bounds.
type SlewRate struct {
	Source     int
	LowerLevel float64
	UpperLevel float64
	Slope      Slope
	Condition  Condition
	LowerBound int64 // picoseconds
	UpperBound int64 // picoseconds
}

// Window triggers on the source entering or leaving a level window.
type Window struct {
	Source     int
	LowerLevel float64
	UpperLevel float64
	Kind       WindowKind
	Width      int64 // picoseconds, for the timed kinds
}
