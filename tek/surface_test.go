// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"testing"
)

func TestSampleRate(t *testing.T) {
	dev, link := newTestDevice(t)

	if err := dev.SetSampleRate(6_250_000_000); err != nil {
		t.Fatalf("could not set sample rate: %+v", err)
	}
	if got, want := link.vars["HORIZONTAL:MODE"], "MANUAL"; got != want {
		t.Errorf("invalid horizontal mode: got=%q, want=%q", got, want)
	}
	if got, want := link.vars["HORIZONTAL:MODE:SAMPLERATE"], "6250000000"; got != want {
		t.Errorf("invalid sample rate command: got=%q, want=%q", got, want)
	}

	rate, err := dev.SampleRate()
	if err != nil {
		t.Fatalf("could not read sample rate: %+v", err)
	}
	if want := int64(6_250_000_000); rate != want {
		t.Fatalf("invalid sample rate: got=%d, want=%d", rate, want)
	}
}

func TestSampleDepth(t *testing.T) {
	dev, link := newTestDevice(t)

	link.replies["HORIZONTAL:MODE:RECORDLENGTH?"] = "1.0000E+6"
	depth, err := dev.SampleDepth()
	if err != nil {
		t.Fatalf("could not read record length: %+v", err)
	}
	if want := int64(1_000_000); depth != want {
		t.Fatalf("invalid record length: got=%d, want=%d", depth, want)
	}

	if err := dev.SetSampleDepth(125_000); err != nil {
		t.Fatalf("could not set record length: %+v", err)
	}
	depth, err = dev.SampleDepth()
	if err != nil {
		t.Fatalf("could not read record length: %+v", err)
	}
	if want := int64(125_000); depth != want {
		t.Fatalf("invalid record length after set: got=%d, want=%d", depth, want)
	}
}

func TestTriggerOffset(t *testing.T) {
	dev, link := newTestDevice(t)

	if err := dev.SetTriggerOffset(2_000_000); err != nil {
		t.Fatalf("could not set trigger offset: %+v", err)
	}
	if got, want := link.vars["HORIZONTAL:DELAY:MODE"], "ON"; got != want {
		t.Errorf("trigger delay mode not enabled: got=%q, want=%q", got, want)
	}
	off, err := dev.TriggerOffset()
	if err != nil {
		t.Fatalf("could not read trigger offset: %+v", err)
	}
	if want := int64(2_000_000); off != want {
		t.Fatalf("invalid trigger offset: got=%d, want=%d", off, want)
	}
}

func TestDigitalThreshold(t *testing.T) {
	dev, link := newTestDevice(t)

	// lane D3 of the CH2 pod, flat index 19.
	if err := dev.SetDigitalThreshold(19, 1.4); err != nil {
		t.Fatalf("could not set threshold: %+v", err)
	}
	if _, ok := link.vars["CH2_D3:THRESHOLD"]; !ok {
		t.Fatalf("threshold command missing (vars=%v)", link.vars)
	}
	v, err := dev.DigitalThreshold(19)
	if err != nil {
		t.Fatalf("could not read threshold: %+v", err)
	}
	if want := 1.4; v != want {
		t.Fatalf("invalid threshold: got=%v, want=%v", v, want)
	}

	// lanes without a pod must never be queried.
	traffic := len(link.wrote)
	if _, err := dev.DigitalThreshold(8); err != ErrInvalidChannel {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidChannel)
	}
	if got := len(link.wrote); got != traffic {
		t.Fatalf("podless lane query hit the device")
	}
}

func TestDigitalBanks(t *testing.T) {
	dev, _ := newTestDevice(t)

	banks := dev.DigitalBanks()
	// only the CH2 pod contributes banks, one per lane.
	if got, want := len(banks), 8; got != want {
		t.Fatalf("invalid bank count: got=%d, want=%d", got, want)
	}
	for lane, bank := range banks {
		if got, want := len(bank.Channels), 1; got != want {
			t.Fatalf("bank %d: invalid channel count: got=%d, want=%d", lane, got, want)
		}
		if got, want := bank.Channels[0], 16+lane; got != want {
			t.Fatalf("bank %d: invalid channel: got=%d, want=%d", lane, got, want)
		}
	}
}

func TestMeter(t *testing.T) {
	dev, link := newTestDevice(t)

	if err := dev.SetMeterMode(MeterACRMS); err != nil {
		t.Fatalf("could not set meter mode: %+v", err)
	}
	mode, err := dev.MeterMode()
	if err != nil {
		t.Fatalf("could not read meter mode: %+v", err)
	}
	if want := MeterACRMS; mode != want {
		t.Fatalf("invalid meter mode: got=%v, want=%v", mode, want)
	}

	if err := dev.SetMeterChannel(2); err != nil {
		t.Fatalf("could not set meter channel: %+v", err)
	}
	ch, err := dev.MeterChannel()
	if err != nil {
		t.Fatalf("could not read meter channel: %+v", err)
	}
	if want := 2; ch != want {
		t.Fatalf("invalid meter channel: got=%d, want=%d", ch, want)
	}

	// live readings bypass the cache.
	link.replies["DVM:MEASUREMENT:VALUE?"] = "1.2345E+0"
	for i := 0; i < 2; i++ {
		v, err := dev.MeterValue()
		if err != nil {
			t.Fatalf("could not read meter value: %+v", err)
		}
		if want := 1.2345; v != want {
			t.Fatalf("invalid meter value: got=%v, want=%v", v, want)
		}
	}

	if err := dev.SetMeterChannel(16); err != ErrInvalidChannel {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidChannel)
	}
}

func TestFunctionGenerator(t *testing.T) {
	dev, _ := newTestDevice(t)

	if err := dev.SetFunctionGeneratorShape(ShapeSquare); err != nil {
		t.Fatalf("could not set shape: %+v", err)
	}
	shape, err := dev.FunctionGeneratorShape()
	if err != nil {
		t.Fatalf("could not read shape: %+v", err)
	}
	if want := ShapeSquare; shape != want {
		t.Fatalf("invalid shape: got=%v, want=%v", shape, want)
	}

	if err := dev.SetFunctionGeneratorFrequency(1e6); err != nil {
		t.Fatalf("could not set frequency: %+v", err)
	}
	hz, err := dev.FunctionGeneratorFrequency()
	if err != nil {
		t.Fatalf("could not read frequency: %+v", err)
	}
	if want := 1e6; hz != want {
		t.Fatalf("invalid frequency: got=%v, want=%v", hz, want)
	}

	// the duty cycle clamps to the 10%..90% hardware range.
	if err := dev.SetFunctionGeneratorDutyCycle(0.95); err != nil {
		t.Fatalf("could not set duty cycle: %+v", err)
	}
	frac, err := dev.FunctionGeneratorDutyCycle()
	if err != nil {
		t.Fatalf("could not read duty cycle: %+v", err)
	}
	if want := 0.9; frac != want {
		t.Fatalf("invalid duty cycle: got=%v, want=%v", frac, want)
	}
}

func TestSpectrum(t *testing.T) {
	dev, link := newTestDevice(t)

	if err := dev.SetCenterFrequency(72, 100e6); err != nil {
		t.Fatalf("could not set center frequency: %+v", err)
	}
	if _, ok := link.vars["SV:CH1:CENTERFREQUENCY"]; !ok {
		t.Fatalf("center frequency command missing (vars=%v)", link.vars)
	}
	hz, err := dev.CenterFrequency(72)
	if err != nil {
		t.Fatalf("could not read center frequency: %+v", err)
	}
	if want := 100e6; hz != want {
		t.Fatalf("invalid center frequency: got=%v, want=%v", hz, want)
	}

	if err := dev.SetSpan(10e6); err != nil {
		t.Fatalf("could not set span: %+v", err)
	}
	span, err := dev.Span()
	if err != nil {
		t.Fatalf("could not read span: %+v", err)
	}
	if want := 10e6; span != want {
		t.Fatalf("invalid span: got=%v, want=%v", span, want)
	}

	if err := dev.SetCenterFrequency(0, 1e6); err != ErrInvalidChannel {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidChannel)
	}
}
