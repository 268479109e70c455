// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tek implements a driver for Tektronix MSO5/MSO6-family
// oscilloscopes attached over a SCPI LAN link.
//
// These scopes adhere strictly to the request/response model: sending a
// new command while another is executing aborts one or both, so all
// traffic goes through a single scpi.Engine. Known firmware quirks the
// driver works around:
//
//   - The SCPI parser keeps state across connections. Dropping the
//     connection right after a query and reconnecting may replay the
//     reply of the abandoned exchange into the new session.
//   - A malformed or out-of-context query (e.g. touching a digital
//     channel with no pod attached) is dropped silently and can hang
//     the scope for several seconds. The driver never issues such
//     queries; capability checks guard every risky path.
//   - DATA:SOURCE:AVAILABLE? reports channels that are *currently*
//     enabled, not channels acquired at the trigger event. Reading a
//     channel enabled after the trigger silently returns no data. The
//     driver tracks enable-state changes itself (see the dirty enable
//     set) instead of trusting that query.
package tek // import "github.com/l1g4v/scopehal/tek"

import (
	"errors"
	"fmt"
)

// Family identifies the scope model family, decided once at connect
// time and consulted wherever command dialects differ.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyMSO5
	FamilyMSO6
	FamilyMDO4
)

func (f Family) String() string {
	switch f {
	case FamilyMSO5:
		return "MSO5"
	case FamilyMSO6:
		return "MSO6"
	case FamilyMDO4:
		return "MDO4"
	}
	return "unknown"
}

// ChannelKind partitions the flat channel index space.
type ChannelKind int

const (
	KindInvalid ChannelKind = iota
	KindAnalog
	KindDigital
	KindSpectrum
)

func (k ChannelKind) String() string {
	switch k {
	case KindAnalog:
		return "analog"
	case KindDigital:
		return "digital"
	case KindSpectrum:
		return "spectrum"
	}
	return "invalid"
}

// ProbeType classifies the probe attached to a hardware analog lane.
type ProbeType int

const (
	// ProbeAnalog is a standard high impedance probe.
	ProbeAnalog ProbeType = iota
	// ProbeAnalog250K is a 250 kOhm high bandwidth probe.
	ProbeAnalog250K
	// ProbeCurrent is a current probe.
	ProbeCurrent
	// ProbeDigital8Bit is an 8-bit logic pod.
	ProbeDigital8Bit
)

// Coupling is an input coupling of an analog channel.
type Coupling int

const (
	CouplingAC1M Coupling = iota
	CouplingDC1M
	CouplingDC50
	CouplingGND
)

// TriggerMode is the result of a non-blocking trigger state probe.
type TriggerMode int

const (
	// Triggered means the trigger condition was met and data may be read.
	Triggered TriggerMode = iota
	// Armed means the scope is waiting for the trigger condition.
	Armed
	// Stopped means acquisition is idle.
	Stopped
	// Busy means the scope is in a transient state; probe again.
	Busy
)

func (m TriggerMode) String() string {
	switch m {
	case Triggered:
		return "triggered"
	case Armed:
		return "armed"
	case Stopped:
		return "stopped"
	}
	return "busy"
}

var (
	// ErrUnsupportedTrigger reports a trigger configuration the
	// hardware cannot express, with no reasonable approximation.
	// Device state is left unchanged.
	ErrUnsupportedTrigger = errors.New("tek: unsupported trigger configuration")

	// ErrInvalidChannel reports a channel or channel/probe combination
	// the hardware cannot service. Issuing such a query to the scope
	// would hang it, so the driver refuses before sending anything.
	ErrInvalidChannel = errors.New("tek: invalid channel query")

	// ErrNotTriggered reports an AcquireData call outside the
	// Triggered state.
	ErrNotTriggered = errors.New("tek: no triggered acquisition to read")
)

// DecodeError reports a malformed or inconsistent waveform preamble or
// binary block. The acquisition for that trigger event is aborted, not
// retried: the data is already lost on the device side.
type DecodeError struct {
	Channel int
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("tek: decode error: %s", e.Reason)
	}
	return fmt.Sprintf("tek: decode error (channel %d): %s", e.Channel, e.Reason)
}
