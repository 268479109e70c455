// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"errors"
	"reflect"
	"testing"

	"github.com/l1g4v/scopehal/trig"
)

// TestTriggerRoundTrip pushes each trigger kind and pulls it back.
// Pulling the result of a push must reproduce the pushed record,
// modulo the documented clamps of the coarser menus.
func TestTriggerRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		push trig.Trigger
		want trig.Trigger // nil means identical to push
	}{
		{
			name: "edge-rising",
			push: trig.Edge{Source: 2, Level: 0.5, Slope: trig.Rising},
		},
		{
			name: "edge-falling",
			push: trig.Edge{Source: 0, Level: -1.25, Slope: trig.Falling},
		},
		{
			name: "edge-any",
			push: trig.Edge{Source: 2, Level: 0.5, Slope: trig.AnyEdge},
		},
		{
			name: "edge-digital-source",
			push: trig.Edge{Source: 16, Level: 0.5, Slope: trig.Rising},
			// digital sources trigger on their bank threshold; the
			// level menu is never consulted for them.
			want: trig.Edge{Source: 16, Level: 0, Slope: trig.Rising},
		},
		{
			name: "pulse-width",
			push: trig.PulseWidth{
				Source:     1,
				Level:      0.8,
				Slope:      trig.Falling,
				Condition:  trig.Between,
				LowerBound: 1_000_000,
				UpperBound: 2_000_000,
			},
		},
		{
			name: "pulse-width-any-edge-clamps",
			push: trig.PulseWidth{
				Source:     1,
				Level:      0.8,
				Slope:      trig.AnyEdge,
				Condition:  trig.Less,
				LowerBound: 500_000,
				UpperBound: 500_000,
			},
			want: trig.PulseWidth{
				Source:     1,
				Level:      0.8,
				Slope:      trig.Rising, // no "either" polarity on this menu
				Condition:  trig.Less,
				LowerBound: 500_000,
				UpperBound: 500_000,
			},
		},
		{
			name: "dropout",
			push: trig.Dropout{Source: 4, Level: 1.2, Edge: trig.Rising, WaitTime: 4_700_000},
		},
		{
			name: "dropout-any-edge",
			push: trig.Dropout{Source: 4, Level: 1.2, Edge: trig.AnyEdge, WaitTime: 250_000},
		},
		{
			name: "runt",
			push: trig.Runt{
				Source:     3,
				LowerLevel: 0.3,
				UpperLevel: 1.7,
				Slope:      trig.Rising,
				Condition:  trig.Greater,
				LowerBound: 2_500_000,
			},
		},
		{
			name: "slew-rate",
			push: trig.SlewRate{
				Source:     5,
				LowerLevel: 0.2,
				UpperLevel: 2.8,
				Slope:      trig.Falling,
				Condition:  trig.Greater,
				LowerBound: 10_000_000,
			},
		},
		{
			name: "slew-rate-between-clamps",
			push: trig.SlewRate{
				Source:     5,
				LowerLevel: 0.2,
				UpperLevel: 2.8,
				Slope:      trig.Rising,
				Condition:  trig.Between,
				LowerBound: 10_000_000,
			},
			want: trig.SlewRate{
				Source:     5,
				LowerLevel: 0.2,
				UpperLevel: 2.8,
				Slope:      trig.Rising,
				Condition:  trig.Less, // in-range has no menu entry
				LowerBound: 10_000_000,
			},
		},
		{
			name: "window",
			push: trig.Window{
				Source:     6,
				LowerLevel: -0.5,
				UpperLevel: 0.5,
				Kind:       trig.ExitWindowTimed,
				Width:      1_250_000,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev, _ := newTestDevice(t)

			if err := dev.PushTrigger(tc.push); err != nil {
				t.Fatalf("could not push trigger: %+v", err)
			}
			got, err := dev.PullTrigger()
			if err != nil {
				t.Fatalf("could not pull trigger: %+v", err)
			}

			want := tc.want
			if want == nil {
				want = tc.push
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch:\ngot = %#v\nwant= %#v", got, want)
			}
		})
	}
}

func TestPushTriggerUnsupported(t *testing.T) {
	dev, link := newTestDevice(t)
	traffic := len(link.wrote)

	for _, tc := range []struct {
		name string
		push trig.Trigger
	}{
		{name: "edge-on-spectrum", push: trig.Edge{Source: 72}},
		{name: "edge-invalid-channel", push: trig.Edge{Source: 80}},
		{name: "runt-on-digital", push: trig.Runt{Source: 16}},
		{name: "slew-rate-on-digital", push: trig.SlewRate{Source: 16}},
		{name: "window-on-digital", push: trig.Window{Source: 16, Kind: trig.EnterWindow}},
		{name: "pulse-width-on-spectrum", push: trig.PulseWidth{Source: 75}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := dev.PushTrigger(tc.push)
			if !errors.Is(err, ErrUnsupportedTrigger) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnsupportedTrigger)
			}
		})
	}

	// refused configurations must leave the device untouched.
	if got := len(link.wrote); got != traffic {
		t.Fatalf("unsupported push sent traffic: %d exchanges", got-traffic)
	}
}

func TestParseSourceName(t *testing.T) {
	dev, _ := newTestDevice(t)

	for _, tc := range []struct {
		name string
		want int
		err  string
	}{
		{name: "CH1", want: 0},
		{name: "CH8", want: 7},
		{name: "CH1_D0", want: 8},
		{name: "CH2_D4", want: 20},
		{name: "CH8_D7", want: 71},
		{name: "CH9", err: `tek: unknown trigger source "CH9"`},
		{name: "CH1_D8", err: `tek: unknown trigger source "CH1_D8"`},
		{name: "AUX", err: `tek: unknown trigger source "AUX"`},
		{name: "LINE", err: `tek: unknown trigger source "LINE"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dev.parseSourceName(tc.name)
			switch {
			case err != nil && tc.err == "":
				t.Fatalf("could not parse source: %+v", err)
			case err == nil && tc.err != "":
				t.Fatalf("expected an error (want=%s)", tc.err)
			case err != nil:
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot = %s\nwant= %s", got, want)
				}
				return
			}
			if got != tc.want {
				t.Fatalf("invalid channel: got=%d, want=%d", got, tc.want)
			}
		})
	}
}
