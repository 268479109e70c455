// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
	"strings"
)

// WaveShape is a function generator output waveform.
type WaveShape int

const (
	ShapeSine WaveShape = iota
	ShapeSquare
	ShapePulse
	ShapeRamp
	ShapeNoise
	ShapeDC
	ShapeSinc
	ShapeGaussian
	ShapeLorentz
	ShapeHaversine
	ShapeCardiac
)

var shapeNames = map[WaveShape]string{
	ShapeSine:      "SINE",
	ShapeSquare:    "SQUARE",
	ShapePulse:     "PULSE",
	ShapeRamp:      "RAMP",
	ShapeNoise:     "NOISE",
	ShapeDC:        "DC",
	ShapeSinc:      "SINC",
	ShapeGaussian:  "GAUSSIAN",
	ShapeLorentz:   "LORENTZ",
	ShapeHaversine: "HAVERSINE",
	ShapeCardiac:   "CARDIAC",
}

func (s WaveShape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("WaveShape(%d)", int(s))
}

var errNoAFG = fmt.Errorf("tek: instrument has no AFG option")

// HasFunctionGenerator reports whether the instrument carries the AFG
// option.
func (dev *Device) HasFunctionGenerator() bool { return dev.hasAFG }

// FunctionGeneratorShapes lists the output waveforms the AFG supports.
func (dev *Device) FunctionGeneratorShapes() []WaveShape {
	return []WaveShape{
		ShapeSine, ShapeSquare, ShapePulse, ShapeRamp, ShapeNoise,
		ShapeDC, ShapeSinc, ShapeGaussian, ShapeLorentz,
		ShapeHaversine, ShapeCardiac,
	}
}

// FunctionGeneratorActive reports whether the AFG output is on.
func (dev *Device) FunctionGeneratorActive() (bool, error) {
	if !dev.hasAFG {
		return false, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.bool(propAFGEnabled, -1, func() (bool, error) {
		return dev.eng.QueryBool("AFG:OUTPUT:STATE?")
	})
}

// SetFunctionGeneratorActive switches the AFG output.
func (dev *Device) SetFunctionGeneratorActive(on bool) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	state := "0"
	if on {
		state = "1"
	}
	if err := dev.eng.Cmd("AFG:OUTPUT:STATE " + state); err != nil {
		return fmt.Errorf("tek: could not switch AFG output: %w", err)
	}
	dev.cache.setBool(propAFGEnabled, -1, on)
	return nil
}

// FunctionGeneratorShape reads the configured output waveform.
func (dev *Device) FunctionGeneratorShape() (WaveShape, error) {
	if !dev.hasAFG {
		return ShapeSine, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	raw, err := dev.cache.str(propAFGShape, -1, func() (string, error) {
		return dev.eng.Query("AFG:FUNCTION?")
	})
	if err != nil {
		return ShapeSine, fmt.Errorf("tek: could not read AFG function: %w", err)
	}
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for shape, name := range shapeNames {
		if name == raw {
			return shape, nil
		}
	}
	return ShapeSine, nil
}

// SetFunctionGeneratorShape sets the output waveform.
func (dev *Device) SetFunctionGeneratorShape(shape WaveShape) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	name, ok := shapeNames[shape]
	if !ok {
		return fmt.Errorf("tek: unknown AFG shape %v", shape)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd("AFG:FUNCTION " + name); err != nil {
		return fmt.Errorf("tek: could not set AFG function: %w", err)
	}
	dev.cache.setStr(propAFGShape, -1, name)
	return nil
}

// FunctionGeneratorAmplitude reads the output amplitude in volts
// peak-to-peak.
func (dev *Device) FunctionGeneratorAmplitude() (float64, error) {
	if !dev.hasAFG {
		return 0, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propAFGAmplitude, -1, func() (float64, error) {
		return dev.eng.QueryFloat("AFG:AMPLITUDE?")
	})
}

// SetFunctionGeneratorAmplitude sets the output amplitude in volts
// peak-to-peak.
func (dev *Device) SetFunctionGeneratorAmplitude(vpp float64) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd(fmt.Sprintf("AFG:AMPLITUDE %e", vpp)); err != nil {
		return fmt.Errorf("tek: could not set AFG amplitude: %w", err)
	}
	dev.cache.setFloat(propAFGAmplitude, -1, vpp)
	return nil
}

// FunctionGeneratorOffset reads the output DC offset in volts.
func (dev *Device) FunctionGeneratorOffset() (float64, error) {
	if !dev.hasAFG {
		return 0, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propAFGOffset, -1, func() (float64, error) {
		return dev.eng.QueryFloat("AFG:OFFSET?")
	})
}

// SetFunctionGeneratorOffset sets the output DC offset in volts.
func (dev *Device) SetFunctionGeneratorOffset(volts float64) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd(fmt.Sprintf("AFG:OFFSET %e", volts)); err != nil {
		return fmt.Errorf("tek: could not set AFG offset: %w", err)
	}
	dev.cache.setFloat(propAFGOffset, -1, volts)
	return nil
}

// FunctionGeneratorFrequency reads the output frequency in Hz.
func (dev *Device) FunctionGeneratorFrequency() (float64, error) {
	if !dev.hasAFG {
		return 0, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propAFGFrequency, -1, func() (float64, error) {
		return dev.eng.QueryFloat("AFG:FREQUENCY?")
	})
}

// SetFunctionGeneratorFrequency sets the output frequency in Hz.
func (dev *Device) SetFunctionGeneratorFrequency(hz float64) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.eng.Cmd(fmt.Sprintf("AFG:FREQUENCY %e", hz)); err != nil {
		return fmt.Errorf("tek: could not set AFG frequency: %w", err)
	}
	dev.cache.setFloat(propAFGFrequency, -1, hz)
	return nil
}

// FunctionGeneratorDutyCycle reads the square/pulse duty cycle as a
// fraction in [0, 1].
func (dev *Device) FunctionGeneratorDutyCycle() (float64, error) {
	if !dev.hasAFG {
		return 0, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.cache.float(propAFGDutyCycle, -1, func() (float64, error) {
		pct, err := dev.eng.QueryFloat("AFG:SQUARE:DUTY?")
		if err != nil {
			return 0, err
		}
		return pct / 100, nil
	})
}

// SetFunctionGeneratorDutyCycle sets the square/pulse duty cycle. The
// hardware accepts 10% to 90%; values outside clamp to the nearest
// bound.
func (dev *Device) SetFunctionGeneratorDutyCycle(frac float64) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	pct := frac * 100
	if pct < 10 {
		pct = 10
	}
	if pct > 90 {
		pct = 90
	}
	if err := dev.eng.Cmd(fmt.Sprintf("AFG:SQUARE:DUTY %g", pct)); err != nil {
		return fmt.Errorf("tek: could not set AFG duty cycle: %w", err)
	}
	dev.cache.setFloat(propAFGDutyCycle, -1, pct/100)
	return nil
}

// FunctionGeneratorImpedance reads the output impedance in ohms.
// The hardware knows two settings, 50 ohm and high-Z (reported as 0).
func (dev *Device) FunctionGeneratorImpedance() (int, error) {
	if !dev.hasAFG {
		return 0, errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	v, err := dev.cache.int(propAFGImpedance, -1, func() (int64, error) {
		load, err := dev.eng.Query("AFG:OUTPUT:LOAD:IMPEDANCE?")
		if err != nil {
			return 0, err
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(load)), "FIF") {
			return 50, nil
		}
		return 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("tek: could not read AFG impedance: %w", err)
	}
	return int(v), nil
}

// SetFunctionGeneratorImpedance sets the output impedance. 50 selects
// the 50 ohm load; anything else selects high-Z.
func (dev *Device) SetFunctionGeneratorImpedance(ohms int) error {
	if !dev.hasAFG {
		return errNoAFG
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	load := "HIGHZ"
	stored := int64(0)
	if ohms == 50 {
		load = "FIFTY"
		stored = 50
	}
	if err := dev.eng.Cmd("AFG:OUTPUT:LOAD:IMPEDANCE " + load); err != nil {
		return fmt.Errorf("tek: could not set AFG impedance: %w", err)
	}
	dev.cache.setInt(propAFGImpedance, -1, stored)
	return nil
}
