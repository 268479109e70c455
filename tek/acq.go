// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/l1g4v/scopehal/wave"
)

// Frame is the result of one trigger event: for every channel that was
// enabled when the trigger was armed, the list of waveform segments
// read for that event. A Frame is committed whole; callers never see a
// subset of a multi-channel event.
type Frame map[int][]wave.Data

// Start arms the trigger in continuous mode: after each capture the
// scope re-arms itself.
func (dev *Device) Start() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.arm(false)
}

// StartSingleTrigger arms the trigger for a one-shot capture.
func (dev *Device) StartSingleTrigger() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.arm(true)
}

func (dev *Device) arm(oneShot bool) error {
	mode := "RUNSTOP"
	if oneShot {
		mode = "SEQUENCE"
	}
	for _, cmd := range []string{
		"ACQUIRE:STOPAFTER " + mode,
		"ACQUIRE:STATE RUN",
	} {
		if err := dev.eng.Cmd(cmd); err != nil {
			return fmt.Errorf("tek: could not arm trigger: %w", err)
		}
	}
	dev.armed = true
	dev.oneShot = oneShot

	// arming establishes a fresh enablement baseline.
	dev.dirty = make(map[int]struct{})
	return nil
}

// Stop forces the acquisition back to idle from any state. It is the
// caller's recovery path after any error.
func (dev *Device) Stop() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.eng.Cmd("ACQUIRE:STATE STOP")
	if err != nil {
		return fmt.Errorf("tek: could not stop acquisition: %w", err)
	}
	dev.armed = false
	return nil
}

// ForceTrigger fires the trigger without waiting for its condition.
func (dev *Device) ForceTrigger() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.armed {
		return ErrNotTriggered
	}
	err := dev.eng.Cmd("TRIGGER FORCE")
	if err != nil {
		return fmt.Errorf("tek: could not force trigger: %w", err)
	}
	return nil
}

// IsTriggerArmed reports the driver-side armed flag.
func (dev *Device) IsTriggerArmed() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.armed
}

// PollTrigger probes the trigger state with a single short status
// query. It never blocks waiting for the trigger condition, so callers
// may poll in a tight loop.
func (dev *Device) PollTrigger() (TriggerMode, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.pollTrigger()
}

func (dev *Device) pollTrigger() (TriggerMode, error) {
	state, err := dev.eng.Query("TRIGGER:STATE?")
	if err != nil {
		return Busy, fmt.Errorf("tek: could not poll trigger state: %w", err)
	}
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "TRIGGER":
		return Triggered, nil
	case "ARMED", "READY", "AUTO":
		return Armed, nil
	case "SAVE":
		if dev.armed && dev.oneShot {
			// one-shot capture completed; data is waiting to be read.
			return Triggered, nil
		}
		return Stopped, nil
	}
	return Busy, nil
}

// AcquireData reads the waveforms of one trigger event, one enabled
// channel at a time, and returns them as a single Frame. It is only
// valid once PollTrigger has reported Triggered.
//
// Channels in the dirty enable set are skipped: their enablement
// changed after the trigger was armed, and the scope silently returns
// no data for them (it reports them available regardless, which is the
// firmware bug this driver works around).
//
// Any per-channel failure aborts the whole event; partial data is
// discarded rather than returned mislabeled.
func (dev *Device) AcquireData() (Frame, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.armed {
		return nil, ErrNotTriggered
	}

	var (
		now     = time.Now()
		pending = make(Frame)
	)

	for i := 0; i < dev.TotalChannels(); i++ {
		// canEnableChannel also rules out digital lanes without a
		// logic pod, which must never be queried at all.
		if !dev.canEnableChannel(i) {
			continue
		}
		if _, dirty := dev.dirty[i]; dirty {
			continue
		}
		enabled, err := dev.isChannelEnabled(i)
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}

		wf, err := dev.readChannel(i)
		if err != nil {
			return nil, err
		}
		stamp(wf, now)
		pending[i] = append(pending[i], wf)
	}

	if dev.oneShot {
		dev.armed = false
	}
	// commit: the whole frame becomes visible at once.
	return pending, nil
}

func stamp(wf wave.Data, t time.Time) {
	meta := wf.Meta()
	meta.StartTimestamp = t.Unix()
	meta.StartPicoseconds = int64(t.Nanosecond()) * 1000
}

// readChannel fetches and decodes the sample block of one channel.
func (dev *Device) readChannel(i int) (wave.Data, error) {
	err := dev.eng.Cmd("DATA:SOURCE " + dev.chName(i))
	if err != nil {
		return nil, fmt.Errorf("tek: could not select channel %d: %w", i, err)
	}

	raw, err := dev.eng.Query("WFMOUTPRE?")
	if err != nil {
		return nil, fmt.Errorf("tek: could not read preamble of channel %d: %w", i, err)
	}
	pre, err := parsePreamble(raw)
	if err != nil {
		if dec, ok := err.(*DecodeError); ok {
			dec.Channel = i
		}
		return nil, err
	}

	block, err := dev.eng.QueryBlock("CURVE?")
	if err != nil {
		return nil, fmt.Errorf("tek: could not read sample block of channel %d: %w", i, err)
	}
	if err := pre.checkBlock(i, len(block)); err != nil {
		return nil, err
	}

	switch dev.Classify(i) {
	case KindDigital:
		return decodeDigital(pre, block)
	default:
		return decodeAnalog(pre, block)
	}
}

// decodeAnalog converts raw sample codes to physical values through
// the preamble's affine transform.
func decodeAnalog(pre *preamble, block []byte) (*wave.Analog, error) {
	wf := new(wave.Analog)
	switch pre.domain {
	case domainFrequency:
		// spectrum traces carry Hz-per-bin in the timescale slot.
		wf.Timescale = int64(pre.fr.binSize)
		wf.TriggerPhase = pre.fr.offset
	default:
		wf.Timescale = int64(pre.tm.incr * 1e12)
		wf.TriggerPhase = pre.tm.zero * 1e12
	}

	wf.Resize(pre.nrPt)
	wf.FillDense()

	switch pre.byteNum {
	case 1:
		for j, code := range block {
			wf.Samples[j] = pre.value(float64(int8(code)))
		}
	case 2:
		order := byteOrderOf(pre)
		for j := 0; j < pre.nrPt; j++ {
			code := int16(order.Uint16(block[2*j:]))
			wf.Samples[j] = pre.value(float64(code))
		}
	default:
		return nil, &DecodeError{
			Channel: -1,
			Reason:  fmt.Sprintf("unsupported sample width %d", pre.byteNum),
		}
	}
	return wf, nil
}

// decodeDigital extracts a single logic lane from its sample block.
func decodeDigital(pre *preamble, block []byte) (*wave.Digital, error) {
	if pre.byteNum != 1 {
		return nil, &DecodeError{
			Channel: -1,
			Reason:  fmt.Sprintf("unsupported digital sample width %d", pre.byteNum),
		}
	}
	wf := new(wave.Digital)
	wf.Timescale = int64(pre.tm.incr * 1e12)
	wf.TriggerPhase = pre.tm.zero * 1e12
	wf.Resize(pre.nrPt)
	wf.FillDense()
	for j, code := range block {
		wf.Samples[j] = code&1 != 0
	}
	return wf, nil
}

func byteOrderOf(pre *preamble) binary.ByteOrder {
	if pre.order == orderMSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
