// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/l1g4v/scopehal/trig"
)

// PullTrigger reads the scope's current trigger configuration and
// returns the matching vendor-neutral record. The armed source channel
// goes through the configuration cache; kind-specific fields are
// queried directly, trigger reconfiguration being rare enough that
// staleness risk outweighs the round-trip cost of not caching them.
func (dev *Device) PullTrigger() (trig.Trigger, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	kind, err := dev.eng.Query("TRIGGER:A:TYPE?")
	if err != nil {
		return nil, fmt.Errorf("tek: could not read trigger type: %w", err)
	}
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "EDGE":
		return dev.pullEdgeTrigger()
	case "WIDTH", "PULSEWIDTH":
		return dev.pullPulseWidthTrigger()
	case "TIMEOUT":
		return dev.pullDropoutTrigger()
	case "RUNT":
		return dev.pullRuntTrigger()
	case "TRANSITION":
		return dev.pullSlewRateTrigger()
	case "WINDOW":
		return dev.pullWindowTrigger()
	}
	return nil, fmt.Errorf("tek: unknown trigger type %q", strings.TrimSpace(kind))
}

// PushTrigger realizes the given trigger on the scope. Values outside
// the hardware's representable range are clamped or quantized to the
// nearest supported form rather than rejected; only configurations
// with no reasonable approximation fail, leaving device state
// unchanged. The cached trigger-source entry is invalidated.
func (dev *Device) PushTrigger(t trig.Trigger) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var err error
	switch t := t.(type) {
	case trig.Edge:
		err = dev.pushEdgeTrigger(t)
	case trig.PulseWidth:
		err = dev.pushPulseWidthTrigger(t)
	case trig.Dropout:
		err = dev.pushDropoutTrigger(t)
	case trig.Runt:
		err = dev.pushRuntTrigger(t)
	case trig.SlewRate:
		err = dev.pushSlewRateTrigger(t)
	case trig.Window:
		err = dev.pushWindowTrigger(t)
	default:
		return ErrUnsupportedTrigger
	}
	if err != nil {
		return err
	}
	dev.cache.invalidate(propTriggerSource, -1)
	return nil
}

// TriggerTypes lists the trigger kinds this driver can pull and push.
func (dev *Device) TriggerTypes() []string {
	return []string{"edge", "pulsewidth", "dropout", "runt", "slewrate", "window"}
}

// triggerSource resolves the armed source channel of the named trigger
// menu, caching the result.
func (dev *Device) triggerSource(menu string) (int, error) {
	v, err := dev.cache.int(propTriggerSource, -1, func() (int64, error) {
		name, err := dev.eng.Query(fmt.Sprintf("TRIGGER:A:%s:SOURCE?", menu))
		if err != nil {
			return 0, err
		}
		ch, err := dev.parseSourceName(strings.TrimSpace(name))
		if err != nil {
			return 0, err
		}
		return int64(ch), nil
	})
	return int(v), err
}

// parseSourceName maps a device source mnemonic ("CH2", "CH1_D4") to a
// flat channel index.
func (dev *Device) parseSourceName(name string) (int, error) {
	if !strings.HasPrefix(name, "CH") {
		return 0, fmt.Errorf("tek: unknown trigger source %q", name)
	}
	body := name[len("CH"):]
	if i := strings.Index(body, "_D"); i >= 0 {
		pod, err1 := strconv.Atoi(body[:i])
		lane, err2 := strconv.Atoi(body[i+len("_D"):])
		if err1 != nil || err2 != nil || pod < 1 || pod > dev.nchan || lane < 0 || lane > 7 {
			return 0, fmt.Errorf("tek: unknown trigger source %q", name)
		}
		return dev.digBase + (pod-1)*8 + lane, nil
	}
	ch, err := strconv.Atoi(body)
	if err != nil || ch < 1 || ch > dev.nchan {
		return 0, fmt.Errorf("tek: unknown trigger source %q", name)
	}
	return ch - 1, nil
}

// readTriggerLevelMSO56 reads the per-channel trigger level used by the
// 5/6 series; older families keep a single level for the whole trigger
// system and use the generic path instead.
func (dev *Device) readTriggerLevelMSO56(ch int) (float64, error) {
	return dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:LEVEL:CH%d?", ch+1))
}

// maybeReadLevel reads the trigger level of an analog source. Digital
// sources trigger on their bank threshold instead; asking the level
// menu about them is one of the queries the scope hangs on.
func (dev *Device) maybeReadLevel(ch int) (float64, error) {
	if dev.Classify(ch) != KindAnalog {
		return 0, nil
	}
	return dev.readTriggerLevel(ch)
}

func (dev *Device) readTriggerLevel(ch int) (float64, error) {
	switch dev.family {
	case FamilyMSO5, FamilyMSO6:
		return dev.readTriggerLevelMSO56(ch)
	default:
		return dev.eng.QueryFloat("TRIGGER:A:LEVEL?")
	}
}

func (dev *Device) writeTriggerLevel(ch int, level float64) error {
	if dev.Classify(ch) != KindAnalog {
		return nil
	}
	switch dev.family {
	case FamilyMSO5, FamilyMSO6:
		return dev.eng.Cmd(fmt.Sprintf("TRIGGER:A:LEVEL:CH%d %E", ch+1, level))
	default:
		return dev.eng.Cmd(fmt.Sprintf("TRIGGER:A:LEVEL %E", level))
	}
}

func (dev *Device) pullEdgeTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("EDGE")
	if err != nil {
		return nil, err
	}
	level, err := dev.maybeReadLevel(src)
	if err != nil {
		return nil, err
	}
	slope, err := dev.eng.Query("TRIGGER:A:EDGE:SLOPE?")
	if err != nil {
		return nil, err
	}
	t := trig.Edge{Source: src, Level: level}
	switch strings.ToUpper(strings.TrimSpace(slope)) {
	case "RISE":
		t.Slope = trig.Rising
	case "FALL":
		t.Slope = trig.Falling
	default:
		t.Slope = trig.AnyEdge
	}
	return t, nil
}

func (dev *Device) pushEdgeTrigger(t trig.Edge) error {
	if dev.Classify(t.Source) == KindInvalid || dev.Classify(t.Source) == KindSpectrum {
		return ErrUnsupportedTrigger
	}
	slope := "RISE"
	switch t.Slope {
	case trig.Falling:
		slope = "FALL"
	case trig.AnyEdge:
		slope = "EITHER"
	}
	cmds := []string{
		"TRIGGER:A:TYPE EDGE",
		"TRIGGER:A:EDGE:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:EDGE:SLOPE " + slope,
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push edge trigger: %w", err)
		}
	}
	return dev.writeTriggerLevel(t.Source, t.Level)
}

func (dev *Device) pullPulseWidthTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("PULSEWIDTH")
	if err != nil {
		return nil, err
	}
	level, err := dev.maybeReadLevel(src)
	if err != nil {
		return nil, err
	}
	t := trig.PulseWidth{Source: src, Level: level}

	t.Condition, err = dev.pullCondition("TRIGGER:A:PULSEWIDTH:WHEN?")
	if err != nil {
		return nil, err
	}
	t.LowerBound, err = dev.queryPicoseconds("TRIGGER:A:PULSEWIDTH:LOWLIMIT?")
	if err != nil {
		return nil, err
	}
	t.UpperBound, err = dev.queryPicoseconds("TRIGGER:A:PULSEWIDTH:HIGHLIMIT?")
	if err != nil {
		return nil, err
	}
	pol, err := dev.eng.Query("TRIGGER:A:PULSEWIDTH:POLARITY?")
	if err != nil {
		return nil, err
	}
	t.Slope = slopeFromPolarity(pol)
	return t, nil
}

func (dev *Device) pushPulseWidthTrigger(t trig.PulseWidth) error {
	if dev.Classify(t.Source) != KindAnalog && dev.Classify(t.Source) != KindDigital {
		return ErrUnsupportedTrigger
	}
	cmds := []string{
		"TRIGGER:A:TYPE WIDTH",
		"TRIGGER:A:PULSEWIDTH:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:PULSEWIDTH:WHEN " + conditionName(t.Condition),
		fmt.Sprintf("TRIGGER:A:PULSEWIDTH:LOWLIMIT %E", picosToSec(t.LowerBound)),
		fmt.Sprintf("TRIGGER:A:PULSEWIDTH:HIGHLIMIT %E", picosToSec(t.UpperBound)),
		// the width menu has no "either" polarity: any-edge clamps to positive.
		"TRIGGER:A:PULSEWIDTH:POLARITY " + polarityName(t.Slope),
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push pulse width trigger: %w", err)
		}
	}
	return dev.writeTriggerLevel(t.Source, t.Level)
}

func (dev *Device) pullDropoutTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("TIMEOUT")
	if err != nil {
		return nil, err
	}
	level, err := dev.maybeReadLevel(src)
	if err != nil {
		return nil, err
	}
	t := trig.Dropout{Source: src, Level: level}

	t.WaitTime, err = dev.queryPicoseconds("TRIGGER:A:TIMEOUT:TIME?")
	if err != nil {
		return nil, err
	}
	pol, err := dev.eng.Query("TRIGGER:A:TIMEOUT:POLARITY?")
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(strings.TrimSpace(pol)) {
	case "STAYSHIGH":
		t.Edge = trig.Rising
	case "STAYSLOW":
		t.Edge = trig.Falling
	default:
		t.Edge = trig.AnyEdge
	}
	return t, nil
}

func (dev *Device) pushDropoutTrigger(t trig.Dropout) error {
	if dev.Classify(t.Source) != KindAnalog && dev.Classify(t.Source) != KindDigital {
		return ErrUnsupportedTrigger
	}
	pol := "EITHER"
	switch t.Edge {
	case trig.Rising:
		pol = "STAYSHIGH"
	case trig.Falling:
		pol = "STAYSLOW"
	}
	cmds := []string{
		"TRIGGER:A:TYPE TIMEOUT",
		"TRIGGER:A:TIMEOUT:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:TIMEOUT:POLARITY " + pol,
		fmt.Sprintf("TRIGGER:A:TIMEOUT:TIME %E", picosToSec(t.WaitTime)),
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push dropout trigger: %w", err)
		}
	}
	return dev.writeTriggerLevel(t.Source, t.Level)
}

func (dev *Device) pullRuntTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("RUNT")
	if err != nil {
		return nil, err
	}
	t := trig.Runt{Source: src}

	t.LowerLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	t.UpperLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	t.Condition, err = dev.pullCondition("TRIGGER:A:RUNT:WHEN?")
	if err != nil {
		return nil, err
	}
	t.LowerBound, err = dev.queryPicoseconds("TRIGGER:A:RUNT:WIDTH?")
	if err != nil {
		return nil, err
	}
	pol, err := dev.eng.Query("TRIGGER:A:RUNT:POLARITY?")
	if err != nil {
		return nil, err
	}
	t.Slope = slopeFromPolarity(pol)
	return t, nil
}

func (dev *Device) pushRuntTrigger(t trig.Runt) error {
	if dev.Classify(t.Source) != KindAnalog {
		return ErrUnsupportedTrigger
	}
	cmds := []string{
		"TRIGGER:A:TYPE RUNT",
		"TRIGGER:A:RUNT:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:RUNT:WHEN " + conditionName(t.Condition),
		fmt.Sprintf("TRIGGER:A:RUNT:WIDTH %E", picosToSec(t.LowerBound)),
		"TRIGGER:A:RUNT:POLARITY " + polarityName(t.Slope),
		fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d %E", t.Source+1, t.LowerLevel),
		fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d %E", t.Source+1, t.UpperLevel),
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push runt trigger: %w", err)
		}
	}
	return nil
}

func (dev *Device) pullSlewRateTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("TRANSITION")
	if err != nil {
		return nil, err
	}
	t := trig.SlewRate{Source: src}

	t.LowerLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	t.UpperLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	when, err := dev.eng.Query("TRIGGER:A:TRANSITION:WHEN?")
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(strings.TrimSpace(when)) {
	case "FASTERTHAN":
		t.Condition = trig.Less
	case "SLOWERTHAN":
		t.Condition = trig.Greater
	default:
		t.Condition = trig.Between
	}
	t.LowerBound, err = dev.queryPicoseconds("TRIGGER:A:TRANSITION:DELTATIME?")
	if err != nil {
		return nil, err
	}
	pol, err := dev.eng.Query("TRIGGER:A:TRANSITION:POLARITY?")
	if err != nil {
		return nil, err
	}
	t.Slope = slopeFromPolarity(pol)
	return t, nil
}

func (dev *Device) pushSlewRateTrigger(t trig.SlewRate) error {
	if dev.Classify(t.Source) != KindAnalog {
		return ErrUnsupportedTrigger
	}
	when := "FASTERTHAN"
	if t.Condition == trig.Greater {
		when = "SLOWERTHAN"
	}
	cmds := []string{
		"TRIGGER:A:TYPE TRANSITION",
		"TRIGGER:A:TRANSITION:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:TRANSITION:WHEN " + when,
		fmt.Sprintf("TRIGGER:A:TRANSITION:DELTATIME %E", picosToSec(t.LowerBound)),
		"TRIGGER:A:TRANSITION:POLARITY " + polarityName(t.Slope),
		fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d %E", t.Source+1, t.LowerLevel),
		fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d %E", t.Source+1, t.UpperLevel),
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push slew rate trigger: %w", err)
		}
	}
	return nil
}

func (dev *Device) pullWindowTrigger() (trig.Trigger, error) {
	src, err := dev.triggerSource("WINDOW")
	if err != nil {
		return nil, err
	}
	t := trig.Window{Source: src}

	t.LowerLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	t.UpperLevel, err = dev.eng.QueryFloat(fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d?", src+1))
	if err != nil {
		return nil, err
	}
	when, err := dev.eng.Query("TRIGGER:A:WINDOW:WHEN?")
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(strings.TrimSpace(when)) {
	case "ENTERSWINDOW":
		t.Kind = trig.EnterWindow
	case "EXITSWINDOW":
		t.Kind = trig.ExitWindow
	case "OUTSIDEGREATER":
		t.Kind = trig.ExitWindowTimed
	case "INSIDEGREATER":
		t.Kind = trig.InsideWindowTimed
	}
	t.Width, err = dev.queryPicoseconds("TRIGGER:A:WINDOW:WIDTH?")
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (dev *Device) pushWindowTrigger(t trig.Window) error {
	if dev.Classify(t.Source) != KindAnalog {
		return ErrUnsupportedTrigger
	}
	var when string
	switch t.Kind {
	case trig.EnterWindow:
		when = "ENTERSWINDOW"
	case trig.ExitWindow:
		when = "EXITSWINDOW"
	case trig.ExitWindowTimed:
		when = "OUTSIDEGREATER"
	case trig.InsideWindowTimed:
		when = "INSIDEGREATER"
	default:
		return ErrUnsupportedTrigger
	}
	cmds := []string{
		"TRIGGER:A:TYPE WINDOW",
		"TRIGGER:A:WINDOW:SOURCE " + dev.chName(t.Source),
		"TRIGGER:A:WINDOW:WHEN " + when,
		fmt.Sprintf("TRIGGER:A:WINDOW:WIDTH %E", picosToSec(t.Width)),
		fmt.Sprintf("TRIGGER:A:LOWERTHRESHOLD:CH%d %E", t.Source+1, t.LowerLevel),
		fmt.Sprintf("TRIGGER:A:UPPERTHRESHOLD:CH%d %E", t.Source+1, t.UpperLevel),
	}
	for _, cmd := range cmds {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not push window trigger: %w", err)
		}
	}
	return nil
}

func (dev *Device) pullCondition(query string) (trig.Condition, error) {
	when, err := dev.eng.Query(query)
	if err != nil {
		return 0, err
	}
	switch strings.ToUpper(strings.TrimSpace(when)) {
	case "LESSTHAN":
		return trig.Less, nil
	case "MORETHAN":
		return trig.Greater, nil
	case "EQUAL":
		return trig.Equal, nil
	case "UNEQUAL":
		return trig.NotEqual, nil
	case "WITHIN":
		return trig.Between, nil
	case "OUTSIDE":
		return trig.OutsideRange, nil
	}
	return 0, fmt.Errorf("tek: unknown trigger condition %q", strings.TrimSpace(when))
}

func conditionName(c trig.Condition) string {
	switch c {
	case trig.Less:
		return "LESSTHAN"
	case trig.Greater:
		return "MORETHAN"
	case trig.Equal:
		return "EQUAL"
	case trig.NotEqual:
		return "UNEQUAL"
	case trig.Between:
		return "WITHIN"
	case trig.OutsideRange:
		return "OUTSIDE"
	}
	return "LESSTHAN"
}

func slopeFromPolarity(pol string) trig.Slope {
	switch strings.ToUpper(strings.TrimSpace(pol)) {
	case "POSITIVE":
		return trig.Rising
	case "NEGATIVE":
		return trig.Falling
	}
	return trig.AnyEdge
}

// polarityName clamps any-edge to positive: the width/runt/transition
// menus have no "either" polarity on this family.
func polarityName(s trig.Slope) string {
	if s == trig.Falling {
		return "NEGATIVE"
	}
	return "POSITIVE"
}

func (dev *Device) queryPicoseconds(query string) (int64, error) {
	sec, err := dev.eng.QueryFloat(query)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(sec * 1e12)), nil
}

func picosToSec(ps int64) float64 {
	return float64(ps) * 1e-12
}
