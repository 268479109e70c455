// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
)

// DigitalBank is a group of digital channels sharing one threshold.
// On this hardware every lane has its own comparator, so each bank
// holds a single channel.
type DigitalBank struct {
	Channels []int
}

// DigitalBanks lists the digital banks of every lane backed by a
// logic pod. Lanes without a pod contribute no banks: their channels
// cannot be queried without hanging the scope.
func (dev *Device) DigitalBanks() []DigitalBank {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var banks []DigitalBank
	for pod := 0; pod < dev.nchan; pod++ {
		pt, err := dev.probeType(pod)
		if err != nil || pt != ProbeDigital8Bit {
			continue
		}
		for lane := 0; lane < 8; lane++ {
			ch := dev.digBase + 8*pod + lane
			banks = append(banks, DigitalBank{Channels: []int{ch}})
		}
	}
	return banks
}

// DigitalThreshold reads the logic threshold of a digital channel, in
// volts.
func (dev *Device) DigitalThreshold(i int) (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindDigital || !dev.canEnableChannel(i) {
		return 0, ErrInvalidChannel
	}
	return dev.cache.float(propDigitalThreshold, i, func() (float64, error) {
		pod, lane := dev.digitalLane(i)
		return dev.eng.QueryFloat(fmt.Sprintf("CH%d_D%d:THRESHOLD?", pod+1, lane))
	})
}

// SetDigitalThreshold sets the logic threshold of a digital channel,
// in volts.
func (dev *Device) SetDigitalThreshold(i int, volts float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindDigital || !dev.canEnableChannel(i) {
		return ErrInvalidChannel
	}
	pod, lane := dev.digitalLane(i)
	err := dev.eng.Cmd(fmt.Sprintf("CH%d_D%d:THRESHOLD %e", pod+1, lane, volts))
	if err != nil {
		return fmt.Errorf("tek: could not set threshold of channel %d: %w", i, err)
	}
	dev.cache.setFloat(propDigitalThreshold, i, volts)
	return nil
}

// DigitalHysteresis reports the comparator hysteresis of a digital
// channel. The hardware does not expose it.
func (dev *Device) DigitalHysteresis(i int) (float64, error) {
	if dev.Classify(i) != KindDigital {
		return 0, ErrInvalidChannel
	}
	return 0, fmt.Errorf("tek: digital hysteresis is not configurable on the %s family", dev.family)
}

// SetDigitalHysteresis sets the comparator hysteresis of a digital
// channel. The hardware does not expose it.
func (dev *Device) SetDigitalHysteresis(i int, volts float64) error {
	if dev.Classify(i) != KindDigital {
		return ErrInvalidChannel
	}
	return fmt.Errorf("tek: digital hysteresis is not configurable on the %s family", dev.family)
}
