// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"errors"
	"testing"

	"github.com/l1g4v/scopehal/wave"
)

// curveBlock renders samples as an IEEE-488.2 length-prefixed block
// reply, trailing terminator included.
func curveBlock(samples []byte) []byte {
	n := len(samples)
	digits := []byte{}
	for v := n; v > 0; v /= 10 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
	}
	if n == 0 {
		digits = []byte{'0'}
	}
	blk := []byte{'#', byte('0' + len(digits))}
	blk = append(blk, digits...)
	blk = append(blk, samples...)
	return append(blk, '\n')
}

func TestAcquireSingleTrigger(t *testing.T) {
	dev, link := newTestDevice(t)

	samples := make([]byte, 1000)
	for i := range samples {
		samples[i] = byte(int8(i%255 - 127))
	}
	link.vars["DISPLAY:WAVEVIEW1:CH1:STATE"] = "1"
	link.replies["TRIGGER:STATE?"] = "SAVE"
	link.replies["WFMOUTPRE?"] = timePreamble
	link.blocks["CURVE?"] = curveBlock(samples)

	if err := dev.StartSingleTrigger(); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}
	if !dev.IsTriggerArmed() {
		t.Fatalf("device not armed")
	}

	mode, err := dev.PollTrigger()
	if err != nil {
		t.Fatalf("could not poll trigger: %+v", err)
	}
	if mode != Triggered {
		t.Fatalf("invalid trigger mode: got=%v, want=%v", mode, Triggered)
	}

	frame, err := dev.AcquireData()
	if err != nil {
		t.Fatalf("could not acquire data: %+v", err)
	}
	if got, want := len(frame), 1; got != want {
		t.Fatalf("invalid channel count in frame: got=%d, want=%d", got, want)
	}

	wfs, ok := frame[0]
	if !ok {
		t.Fatalf("channel 0 missing from frame")
	}
	wf, ok := wfs[0].(*wave.Analog)
	if !ok {
		t.Fatalf("invalid waveform type %T", wfs[0])
	}
	if got, want := len(wf.Samples), 1000; got != want {
		t.Fatalf("invalid sample count: got=%d, want=%d", got, want)
	}
	if got, want := wf.Timescale, int64(4000); got != want {
		t.Errorf("invalid timescale: got=%d ps, want=%d ps", got, want)
	}
	for _, j := range []int{0, 1, 500, 999} {
		want := float32(int8(samples[j])) * 0.01
		if got := wf.Samples[j]; got != want {
			t.Errorf("sample %d: got=%v, want=%v", j, got, want)
		}
	}

	// one-shot: the acquisition disarms and a second read is refused.
	if dev.IsTriggerArmed() {
		t.Fatalf("device still armed after one-shot read")
	}
	_, err = dev.AcquireData()
	if !errors.Is(err, ErrNotTriggered) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotTriggered)
	}
}

func TestAcquireDigitalLane(t *testing.T) {
	dev, link := newTestDevice(t)

	samples := make([]byte, 1000)
	for i := range samples {
		samples[i] = byte(i % 2)
	}
	// lane D0 of the CH2 logic pod, flat index 16.
	link.vars["DISPLAY:WAVEVIEW1:CH2_D0:STATE"] = "1"
	link.replies["WFMOUTPRE?"] = timePreamble
	link.blocks["CURVE?"] = curveBlock(samples)

	if err := dev.StartSingleTrigger(); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}
	frame, err := dev.AcquireData()
	if err != nil {
		t.Fatalf("could not acquire data: %+v", err)
	}
	wfs, ok := frame[16]
	if !ok {
		t.Fatalf("digital channel missing from frame (got %d channels)", len(frame))
	}
	wf, ok := wfs[0].(*wave.Digital)
	if !ok {
		t.Fatalf("invalid waveform type %T", wfs[0])
	}
	if got, want := len(wf.Samples), 1000; got != want {
		t.Fatalf("invalid sample count: got=%d, want=%d", got, want)
	}
	for _, j := range []int{0, 1, 998, 999} {
		if got, want := wf.Samples[j], j%2 == 1; got != want {
			t.Errorf("sample %d: got=%v, want=%v", j, got, want)
		}
	}
}

func TestAcquireSkipsDirtyChannels(t *testing.T) {
	dev, link := newTestDevice(t)

	link.vars["DISPLAY:WAVEVIEW1:CH1:STATE"] = "1"
	link.replies["WFMOUTPRE?"] = timePreamble
	link.blocks["CURVE?"] = curveBlock(make([]byte, 1000))

	if err := dev.StartSingleTrigger(); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	// a channel enabled after arming was not captured at the trigger
	// event: it must not appear in the frame even though the scope
	// reports it available.
	if err := dev.EnableChannel(5); err != nil {
		t.Fatalf("could not enable channel: %+v", err)
	}

	frame, err := dev.AcquireData()
	if err != nil {
		t.Fatalf("could not acquire data: %+v", err)
	}
	if _, ok := frame[5]; ok {
		t.Fatalf("dirty channel leaked into the frame")
	}
	if _, ok := frame[0]; !ok {
		t.Fatalf("clean channel missing from the frame")
	}
}

func TestAcquireAbortsOnDecodeError(t *testing.T) {
	dev, link := newTestDevice(t)

	// two enabled channels; the first one reads fine, the second
	// declares 1000 points but delivers 999 bytes.
	link.vars["DISPLAY:WAVEVIEW1:CH1:STATE"] = "1"
	link.vars["DISPLAY:WAVEVIEW1:CH6:STATE"] = "1"
	link.replies["WFMOUTPRE?"] = timePreamble
	link.blocks["CURVE?"] = curveBlock(make([]byte, 1000))

	if err := dev.StartSingleTrigger(); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	// swap in the short block once the first channel has been read.
	link.onWrite = func(cmd string) {
		if cmd == "DATA:SOURCE CH6" {
			link.blocks["CURVE?"] = curveBlock(make([]byte, 999))
		}
	}

	frame, err := dev.AcquireData()
	if err == nil {
		t.Fatalf("expected an error")
	}
	var dec *DecodeError
	if !errors.As(err, &dec) {
		t.Fatalf("error is not a DecodeError: %#v", err)
	}
	if got, want := dec.Channel, 5; got != want {
		t.Errorf("invalid channel in error: got=%d, want=%d", got, want)
	}
	// all-or-nothing: the good channel is discarded too.
	if frame != nil {
		t.Fatalf("partial frame returned alongside an error")
	}
}

func TestPollTrigger(t *testing.T) {
	dev, link := newTestDevice(t)

	for _, tc := range []struct {
		state string
		armed bool
		want  TriggerMode
	}{
		{state: "TRIGGER", want: Triggered},
		{state: "ARMED", want: Armed},
		{state: "READY", want: Armed},
		{state: "AUTO", want: Armed},
		{state: "SAVE", want: Stopped},
		{state: "SAVE", armed: true, want: Triggered},
		{state: "CALIBRATING", want: Busy},
	} {
		t.Run(tc.state, func(t *testing.T) {
			if tc.armed {
				if err := dev.StartSingleTrigger(); err != nil {
					t.Fatalf("could not arm: %+v", err)
				}
			} else if err := dev.Stop(); err != nil {
				t.Fatalf("could not stop: %+v", err)
			}
			link.replies["TRIGGER:STATE?"] = tc.state

			mode, err := dev.PollTrigger()
			if err != nil {
				t.Fatalf("could not poll trigger: %+v", err)
			}
			if mode != tc.want {
				t.Fatalf("invalid mode: got=%v, want=%v", mode, tc.want)
			}
		})
	}
}

func TestForceTriggerRequiresArm(t *testing.T) {
	dev, _ := newTestDevice(t)

	err := dev.ForceTrigger()
	if !errors.Is(err, ErrNotTriggered) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotTriggered)
	}

	if err := dev.Start(); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}
	if err := dev.ForceTrigger(); err != nil {
		t.Fatalf("could not force trigger: %+v", err)
	}
}
