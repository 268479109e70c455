// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scpi implements the synchronous command/query transport layer
// shared by SCPI-style instrument drivers.
//
// The protocol family served by this package permits exactly one
// outstanding exchange at a time: sending a new command while another is
// executing aborts one or both. All traffic therefore funnels through a
// single Engine, which serializes exchanges, enforces timeouts and
// recovers from protocol desynchronization.
package scpi // import "github.com/l1g4v/scopehal/scpi"

import (
	"errors"
)

var (
	// ErrTimeout reports an exchange that did not complete in time.
	// The engine runs a resync sequence before surfacing it.
	ErrTimeout = errors.New("scpi: exchange timeout")

	// ErrDesync reports a command stream whose request/response framing
	// was lost and could not be recovered within the retry budget.
	// The engine refuses further traffic until Reset is called.
	ErrDesync = errors.New("scpi: link desynchronized")
)
