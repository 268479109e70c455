// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
	"strings"
)

// detectProbes classifies the probe attached to each hardware analog
// lane. The classification gates couplings, units and degauss paths,
// and decides whether the lane's logic pod channels exist at all.
// A lane with nothing attached reports "no probe"; that is a normal
// outcome, not an error.
func (dev *Device) detectProbes() error {
	for ch := 0; ch < dev.nchan; ch++ {
		kind, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBETYPE?", ch+1))
		if err != nil {
			return fmt.Errorf("tek: could not detect probe on channel %d: %w", ch, err)
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(kind)), "DIG") {
			dev.cache.setInt(propProbeType, ch, int64(ProbeDigital8Bit))
			dev.cache.setStr(propProbeName, ch, "logic pod")
			continue
		}

		name, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBE:ID:TYPE?", ch+1))
		if err != nil {
			return fmt.Errorf("tek: could not identify probe on channel %d: %w", ch, err)
		}
		name = probeName(name)
		dev.cache.setInt(propProbeType, ch, int64(classifyProbe(name)))
		dev.cache.setStr(propProbeName, ch, name)
	}
	return nil
}

// probeName normalizes a probe id reply; a lane with nothing attached
// reports itself as an empty name.
func probeName(raw string) string {
	name := unquote(strings.TrimSpace(raw))
	if strings.Contains(strings.ToLower(name), "no probe") {
		return ""
	}
	return name
}

// classifyProbe maps a probe model string to its type. Lanes with
// nothing attached ("No probe detected" or an empty reply) behave as
// plain passive inputs.
func classifyProbe(name string) ProbeType {
	up := strings.ToUpper(name)
	switch {
	case strings.HasPrefix(up, "TCP"), strings.HasPrefix(up, "TRCP"):
		return ProbeCurrent
	case strings.HasPrefix(up, "TPP05"), strings.HasPrefix(up, "TAP"):
		return ProbeAnalog250K
	case strings.HasPrefix(up, "TLP"):
		return ProbeDigital8Bit
	}
	return ProbeAnalog
}

// ProbeType reports the kind of probe attached to an analog channel.
func (dev *Device) ProbeType(i int) (ProbeType, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return ProbeAnalog, ErrInvalidChannel
	}
	return dev.probeType(i)
}

func (dev *Device) probeType(i int) (ProbeType, error) {
	v, err := dev.cache.int(propProbeType, i, func() (int64, error) {
		kind, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBETYPE?", i+1))
		if err != nil {
			return 0, err
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(kind)), "DIG") {
			return int64(ProbeDigital8Bit), nil
		}
		name, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBE:ID:TYPE?", i+1))
		if err != nil {
			return 0, err
		}
		return int64(classifyProbe(probeName(name))), nil
	})
	if err != nil {
		return ProbeAnalog, err
	}
	return ProbeType(v), nil
}

// ProbeName reports the model string of the probe attached to an
// analog channel, or an empty string for a bare input.
func (dev *Device) ProbeName(i int) (string, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return "", ErrInvalidChannel
	}
	return dev.cache.str(propProbeName, i, func() (string, error) {
		name, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBE:ID:TYPE?", i+1))
		if err != nil {
			return "", err
		}
		return probeName(name), nil
	})
}

// CanDegauss reports whether the channel carries a current probe,
// the only probe kind with a degauss cycle.
func (dev *Device) CanDegauss(i int) bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return false
	}
	pt, err := dev.probeType(i)
	if err != nil {
		return false
	}
	return pt == ProbeCurrent
}

// ShouldDegauss reports whether the current probe on the channel is
// asking to be degaussed.
func (dev *Device) ShouldDegauss(i int) (bool, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return false, ErrInvalidChannel
	}
	pt, err := dev.probeType(i)
	if err != nil {
		return false, err
	}
	if pt != ProbeCurrent {
		return false, nil
	}
	state, err := dev.eng.Query(fmt.Sprintf("CH%d:PROBE:DEGAUSS:STATE?", i+1))
	if err != nil {
		return false, fmt.Errorf("tek: could not read degauss state of channel %d: %w", i, err)
	}
	return strings.EqualFold(strings.TrimSpace(state), "REQUIRED"), nil
}

// Degauss runs the degauss cycle of the current probe on the channel.
func (dev *Device) Degauss(i int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.Classify(i) != KindAnalog {
		return ErrInvalidChannel
	}
	pt, err := dev.probeType(i)
	if err != nil {
		return err
	}
	if pt != ProbeCurrent {
		return ErrInvalidChannel
	}
	err = dev.eng.Cmd(fmt.Sprintf("CH%d:PROBE:DEGAUSS EXECUTE", i+1))
	if err != nil {
		return fmt.Errorf("tek: could not degauss channel %d: %w", i, err)
	}
	return nil
}
