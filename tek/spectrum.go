// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
)

// CenterFrequency reads the center frequency of a spectrum channel,
// in Hz.
func (dev *Device) CenterFrequency(i int) (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindSpectrum {
		return 0, ErrInvalidChannel
	}
	return dev.cache.float(propCenterFreq, i, func() (float64, error) {
		lane := dev.spectrumParent(i)
		return dev.eng.QueryFloat(fmt.Sprintf("SV:CH%d:CENTERFREQUENCY?", lane+1))
	})
}

// SetCenterFrequency sets the center frequency of a spectrum channel,
// in Hz.
func (dev *Device) SetCenterFrequency(i int, hz float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindSpectrum {
		return ErrInvalidChannel
	}
	lane := dev.spectrumParent(i)
	err := dev.eng.Cmd(fmt.Sprintf("SV:CH%d:CENTERFREQUENCY %e", lane+1, hz))
	if err != nil {
		return fmt.Errorf("tek: could not set center frequency of channel %d: %w", i, err)
	}
	dev.cache.setFloat(propCenterFreq, i, hz)
	return nil
}

// Span reads the spectrum span in Hz. The span is shared by every
// spectrum channel.
func (dev *Device) Span() (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propSpan, -1, func() (float64, error) {
		return dev.eng.QueryFloat("SV:SPAN?")
	})
}

// SetSpan sets the spectrum span in Hz.
func (dev *Device) SetSpan(hz float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd(fmt.Sprintf("SV:SPAN %e", hz)); err != nil {
		return fmt.Errorf("tek: could not set span: %w", err)
	}
	dev.cache.setFloat(propSpan, -1, hz)
	return nil
}

// ResolutionBandwidth reads the spectrum resolution bandwidth in Hz.
func (dev *Device) ResolutionBandwidth() (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propRBW, -1, func() (float64, error) {
		return dev.eng.QueryFloat("SV:RBW?")
	})
}

// SetResolutionBandwidth sets the spectrum resolution bandwidth in Hz.
// The firmware quantizes to its supported RBW steps; read back after
// setting when the exact value matters.
func (dev *Device) SetResolutionBandwidth(hz float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("SV:RBWMODE MANUAL"); err != nil {
		return fmt.Errorf("tek: could not set RBW mode: %w", err)
	}
	if err := dev.eng.Cmd(fmt.Sprintf("SV:RBW %e", hz)); err != nil {
		return fmt.Errorf("tek: could not set resolution bandwidth: %w", err)
	}
	dev.cache.invalidate(propRBW, -1)
	return nil
}
