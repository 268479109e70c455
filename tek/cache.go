// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// propKind enumerates the cached per-channel configuration properties.
// Global (non-channel) properties use channel index -1.
type propKind int

const (
	propOffset propKind = iota
	propRange
	propCoupling
	propAttenuation
	propBandwidth
	propDeskew
	propEnabled
	propDisplayName
	propUnit
	propDigitalThreshold
	propProbeType
	propProbeName
	propSampleRate
	propSampleDepth
	propTriggerOffset
	propTriggerSource
	propInterleaving
	propRBW
	propSpan
	propCenterFreq
	propDMMMode
	propDMMAutorange
	propDMMChannel
	propAFGShape
	propAFGAmplitude
	propAFGOffset
	propAFGFrequency
	propAFGDutyCycle
	propAFGImpedance
	propAFGEnabled
)

type cacheKey struct {
	prop propKind
	ch   int
}

// configCache is the write-through, lazily invalidated configuration
// cache. An absent entry is an invalid one: there is no validity flag
// to forget. A miss performs exactly one round-trip through the sync
// engine; concurrent misses for the same key are collapsed into a
// single flight, since the link cannot tolerate overlapping commands.
type configCache struct {
	mu      sync.Mutex
	floats  map[cacheKey]float64
	ints    map[cacheKey]int64
	bools   map[cacheKey]bool
	strs    map[cacheKey]string
	flights singleflight.Group
}

func newConfigCache() *configCache {
	return &configCache{
		floats: make(map[cacheKey]float64),
		ints:   make(map[cacheKey]int64),
		bools:  make(map[cacheKey]bool),
		strs:   make(map[cacheKey]string),
	}
}

// flush drops every entry. Used after external reconfiguration and on
// reconnect, since device-side state may have survived the drop.
func (c *configCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floats = make(map[cacheKey]float64)
	c.ints = make(map[cacheKey]int64)
	c.bools = make(map[cacheKey]bool)
	c.strs = make(map[cacheKey]string)
}

func (c *configCache) invalidate(prop propKind, ch int) {
	key := cacheKey{prop, ch}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.floats, key)
	delete(c.ints, key)
	delete(c.bools, key)
	delete(c.strs, key)
}

func flightKey(key cacheKey) string {
	return fmt.Sprintf("%d/%d", key.prop, key.ch)
}

func (c *configCache) float(prop propKind, ch int, fill func() (float64, error)) (float64, error) {
	key := cacheKey{prop, ch}
	c.mu.Lock()
	if v, ok := c.floats[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flights.Do(flightKey(key), func() (interface{}, error) {
		v, err := fill()
		if err != nil {
			return 0.0, err
		}
		c.setFloat(prop, ch, v)
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (c *configCache) setFloat(prop propKind, ch int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floats[cacheKey{prop, ch}] = v
}

func (c *configCache) int(prop propKind, ch int, fill func() (int64, error)) (int64, error) {
	key := cacheKey{prop, ch}
	c.mu.Lock()
	if v, ok := c.ints[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flights.Do(flightKey(key), func() (interface{}, error) {
		v, err := fill()
		if err != nil {
			return int64(0), err
		}
		c.setInt(prop, ch, v)
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *configCache) setInt(prop propKind, ch int, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ints[cacheKey{prop, ch}] = v
}

func (c *configCache) bool(prop propKind, ch int, fill func() (bool, error)) (bool, error) {
	key := cacheKey{prop, ch}
	c.mu.Lock()
	if v, ok := c.bools[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flights.Do(flightKey(key), func() (interface{}, error) {
		v, err := fill()
		if err != nil {
			return false, err
		}
		c.setBool(prop, ch, v)
		return v, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *configCache) setBool(prop propKind, ch int, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bools[cacheKey{prop, ch}] = v
}

func (c *configCache) str(prop propKind, ch int, fill func() (string, error)) (string, error) {
	key := cacheKey{prop, ch}
	c.mu.Lock()
	if v, ok := c.strs[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flights.Do(flightKey(key), func() (interface{}, error) {
		v, err := fill()
		if err != nil {
			return "", err
		}
		c.setStr(prop, ch, v)
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *configCache) setStr(prop propKind, ch int, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strs[cacheKey{prop, ch}] = v
}
