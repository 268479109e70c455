// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
	"strings"
)

// MeterMode selects what the digital voltmeter option measures.
type MeterMode int

const (
	MeterDCVoltage MeterMode = iota
	MeterACRMS
	MeterACDCRMS
	MeterFrequency
)

func (m MeterMode) String() string {
	switch m {
	case MeterDCVoltage:
		return "DC voltage"
	case MeterACRMS:
		return "AC RMS"
	case MeterACDCRMS:
		return "AC+DC RMS"
	case MeterFrequency:
		return "frequency"
	}
	return fmt.Sprintf("MeterMode(%d)", int(m))
}

// errNoMeter reports use of the voltmeter surface on an instrument
// without the DVM option.
var errNoMeter = fmt.Errorf("tek: instrument has no DVM option")

// HasMeter reports whether the instrument carries the DVM option.
func (dev *Device) HasMeter() bool { return dev.hasDVM }

// MeterDigits reports the display resolution of the voltmeter.
func (dev *Device) MeterDigits() int { return 4 }

// MeterMode reads the configured voltmeter function.
func (dev *Device) MeterMode() (MeterMode, error) {
	if !dev.hasDVM {
		return MeterDCVoltage, errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	mode, err := dev.cache.str(propDMMMode, -1, func() (string, error) {
		return dev.eng.Query("DVM:MODE?")
	})
	if err != nil {
		return MeterDCVoltage, fmt.Errorf("tek: could not read DVM mode: %w", err)
	}
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "ACRMS":
		return MeterACRMS, nil
	case "ACDCRMS":
		return MeterACDCRMS, nil
	case "FREQUENCY":
		return MeterFrequency, nil
	}
	return MeterDCVoltage, nil
}

// SetMeterMode sets the voltmeter function.
func (dev *Device) SetMeterMode(mode MeterMode) error {
	if !dev.hasDVM {
		return errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	name := "DC"
	switch mode {
	case MeterACRMS:
		name = "ACRMS"
	case MeterACDCRMS:
		name = "ACDCRMS"
	case MeterFrequency:
		name = "FREQUENCY"
	}
	if err := dev.eng.Cmd("DVM:MODE " + name); err != nil {
		return fmt.Errorf("tek: could not set DVM mode: %w", err)
	}
	dev.cache.setStr(propDMMMode, -1, name)
	return nil
}

// MeterAutoRange reads the voltmeter autorange flag.
func (dev *Device) MeterAutoRange() (bool, error) {
	if !dev.hasDVM {
		return false, errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.bool(propDMMAutorange, -1, func() (bool, error) {
		return dev.eng.QueryBool("DVM:AUTORANGE?")
	})
}

// SetMeterAutoRange sets the voltmeter autorange flag.
func (dev *Device) SetMeterAutoRange(on bool) error {
	if !dev.hasDVM {
		return errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	state := "OFF"
	if on {
		state = "ON"
	}
	if err := dev.eng.Cmd("DVM:AUTORANGE " + state); err != nil {
		return fmt.Errorf("tek: could not set DVM autorange: %w", err)
	}
	dev.cache.setBool(propDMMAutorange, -1, on)
	return nil
}

// MeterChannel reads the analog channel the voltmeter measures.
func (dev *Device) MeterChannel() (int, error) {
	if !dev.hasDVM {
		return 0, errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	v, err := dev.cache.int(propDMMChannel, -1, func() (int64, error) {
		src, err := dev.eng.Query("DVM:SOURCE?")
		if err != nil {
			return 0, err
		}
		ch, err := dev.parseSourceName(strings.TrimSpace(src))
		if err != nil {
			return 0, err
		}
		return int64(ch), nil
	})
	if err != nil {
		return 0, fmt.Errorf("tek: could not read DVM source: %w", err)
	}
	return int(v), nil
}

// SetMeterChannel points the voltmeter at an analog channel.
func (dev *Device) SetMeterChannel(i int) error {
	if !dev.hasDVM {
		return errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return ErrInvalidChannel
	}
	if err := dev.eng.Cmd(fmt.Sprintf("DVM:SOURCE CH%d", i+1)); err != nil {
		return fmt.Errorf("tek: could not set DVM source: %w", err)
	}
	dev.cache.setInt(propDMMChannel, -1, int64(i))
	return nil
}

// StartMeter turns the voltmeter on.
func (dev *Device) StartMeter() error {
	if !dev.hasDVM {
		return errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("DVM:MODE DC"); err != nil {
		return fmt.Errorf("tek: could not start DVM: %w", err)
	}
	dev.cache.setStr(propDMMMode, -1, "DC")
	return nil
}

// StopMeter turns the voltmeter off.
func (dev *Device) StopMeter() error {
	if !dev.hasDVM {
		return errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("DVM:MODE OFF"); err != nil {
		return fmt.Errorf("tek: could not stop DVM: %w", err)
	}
	dev.cache.invalidate(propDMMMode, -1)
	return nil
}

// MeterValue reads the current voltmeter measurement. Live readings
// are never cached.
func (dev *Device) MeterValue() (float64, error) {
	if !dev.hasDVM {
		return 0, errNoMeter
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	v, err := dev.eng.QueryFloat("DVM:MEASUREMENT:VALUE?")
	if err != nil {
		return 0, fmt.Errorf("tek: could not read DVM value: %w", err)
	}
	return v, nil
}
