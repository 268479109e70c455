// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
)

// SampleRates lists the sample rates the instrument supports, in
// samples per second, fastest first. The list is fixed per family:
// the firmware has no query for it.
func (dev *Device) SampleRates() []int64 {
	switch dev.family {
	case FamilyMSO6:
		return []int64{
			25_000_000_000,
			12_500_000_000,
			6_250_000_000,
			3_125_000_000,
			1_562_500_000,
			625_000_000,
			312_500_000,
			125_000_000,
			62_500_000,
			25_000_000,
			12_500_000,
			6_250_000,
			3_125_000,
			1_250_000,
		}
	default:
		return []int64{
			6_250_000_000,
			3_125_000_000,
			1_562_500_000,
			625_000_000,
			312_500_000,
			125_000_000,
			62_500_000,
			25_000_000,
			12_500_000,
			6_250_000,
			3_125_000,
			1_250_000,
		}
	}
}

// SampleDepths lists the record lengths the instrument supports, in
// points per channel.
func (dev *Device) SampleDepths() []int64 {
	return []int64{
		1000,
		10_000,
		100_000,
		1_000_000,
		5_000_000,
		10_000_000,
		25_000_000,
		50_000_000,
		62_500_000,
	}
}

// SampleRate reads the configured sample rate in samples per second.
func (dev *Device) SampleRate() (int64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.int(propSampleRate, -1, func() (int64, error) {
		v, err := dev.eng.QueryFloat("HORIZONTAL:MODE:SAMPLERATE?")
		if err != nil {
			return 0, err
		}
		return int64(v), nil
	})
}

// SetSampleRate sets the sample rate in samples per second. The scope
// is switched to manual horizontal mode so the rate and record length
// stop tracking the timebase knob.
func (dev *Device) SetSampleRate(rate int64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("HORIZONTAL:MODE MANUAL"); err != nil {
		return fmt.Errorf("tek: could not set horizontal mode: %w", err)
	}
	err := dev.eng.Cmd(fmt.Sprintf("HORIZONTAL:MODE:SAMPLERATE %d", rate))
	if err != nil {
		return fmt.Errorf("tek: could not set sample rate: %w", err)
	}
	dev.cache.setInt(propSampleRate, -1, rate)
	return nil
}

// SampleDepth reads the configured record length in points.
func (dev *Device) SampleDepth() (int64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.int(propSampleDepth, -1, func() (int64, error) {
		return dev.eng.QueryInt("HORIZONTAL:MODE:RECORDLENGTH?")
	})
}

// SetSampleDepth sets the record length in points.
func (dev *Device) SetSampleDepth(depth int64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("HORIZONTAL:MODE MANUAL"); err != nil {
		return fmt.Errorf("tek: could not set horizontal mode: %w", err)
	}
	err := dev.eng.Cmd(fmt.Sprintf("HORIZONTAL:MODE:RECORDLENGTH %d", depth))
	if err != nil {
		return fmt.Errorf("tek: could not set record length: %w", err)
	}
	dev.cache.setInt(propSampleDepth, -1, depth)
	return nil
}

// TriggerOffset reads the delay from the trigger event to the start of
// the capture window, in picoseconds.
func (dev *Device) TriggerOffset() (int64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.int(propTriggerOffset, -1, func() (int64, error) {
		sec, err := dev.eng.QueryFloat("HORIZONTAL:DELAY:TIME?")
		if err != nil {
			return 0, err
		}
		return int64(sec * 1e12), nil
	})
}

// SetTriggerOffset sets the trigger-to-capture delay in picoseconds.
func (dev *Device) SetTriggerOffset(ps int64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("HORIZONTAL:DELAY:MODE ON"); err != nil {
		return fmt.Errorf("tek: could not enable trigger delay: %w", err)
	}
	err := dev.eng.Cmd(fmt.Sprintf("HORIZONTAL:DELAY:TIME %e", float64(ps)*1e-12))
	if err != nil {
		return fmt.Errorf("tek: could not set trigger offset: %w", err)
	}
	dev.cache.setInt(propTriggerOffset, -1, ps)
	return nil
}

// Interleaving reports whether ADC interleaving is active. These
// scopes manage interleaving internally and expose no control over it,
// so the driver always reports false.
func (dev *Device) Interleaving() bool { return false }

// SetInterleaving requests ADC interleaving. Only the implicit
// firmware-managed mode exists, so asking for explicit interleaving
// fails and asking for none is a no-op.
func (dev *Device) SetInterleaving(on bool) error {
	if on {
		return fmt.Errorf("tek: interleaving is not user-controllable on the %s family", dev.family)
	}
	return nil
}
