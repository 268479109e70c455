// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/l1g4v/scopehal/scpi"
)

// fakeScope scripts an MSO58: replies holds canned query replies,
// blocks holds raw reply bytes (binary sample blocks), and every
// "KEY VALUE" command is captured into vars so that a later "KEY?"
// query reads it back. Unknown queries get no reply at all, which is
// exactly how the real firmware fails.
type fakeScope struct {
	replies map[string]string
	blocks  map[string][]byte
	vars    map[string]string
	wrote   []string

	// onWrite, when set, observes every command before it is served.
	onWrite func(cmd string)

	buf bytes.Buffer
}

func newFakeScope() *fakeScope {
	f := &fakeScope{
		replies: map[string]string{
			"*IDN?": "TEKTRONIX,MSO58,C013880,CF:91.1CT FV:1.28.5.5",
			"*OPT?": "5-AFG:1;5-DVM:1",
		},
		blocks: make(map[string][]byte),
		vars:   make(map[string]string),
	}
	for ch := 1; ch <= 8; ch++ {
		name := fmt.Sprintf("CH%d", ch)
		f.replies[name+":PROBETYPE?"] = "ANALOG"
		f.replies[name+":PROBE:ID:TYPE?"] = `"TPP1000"`
	}
	// lane 2 carries a logic pod, lane 3 a current probe, lane 4
	// nothing at all.
	f.replies["CH2:PROBETYPE?"] = "DIGITAL"
	f.replies["CH3:PROBE:ID:TYPE?"] = `"TCP0030A"`
	f.replies["CH4:PROBE:ID:TYPE?"] = `"No probe detected"`
	return f
}

func (f *fakeScope) Write(p []byte) error {
	line := strings.TrimSuffix(string(p), "\n")
	f.wrote = append(f.wrote, line)
	if f.onWrite != nil {
		f.onWrite(line)
	}

	if strings.HasSuffix(line, "?") {
		if rep, ok := f.replies[line]; ok {
			f.buf.WriteString(rep + "\n")
			return nil
		}
		if blk, ok := f.blocks[line]; ok {
			f.buf.Write(blk)
			return nil
		}
		if v, ok := f.vars[strings.TrimSuffix(line, "?")]; ok {
			f.buf.WriteString(v + "\n")
			return nil
		}
		// display states default to "off" so acquisition loops can
		// walk the whole channel space.
		if strings.HasSuffix(line, ":STATE?") {
			f.buf.WriteString("0\n")
		}
		return nil
	}

	if i := strings.LastIndex(line, " "); i > 0 {
		f.vars[line[:i]] = line[i+1:]
	}
	return nil
}

func (f *fakeScope) ReadLine() (string, error) {
	line, err := f.buf.ReadString('\n')
	if err != nil {
		return "", errors.New("fake: read timeout")
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (f *fakeScope) ReadFull(p []byte) error {
	_, err := io.ReadFull(&f.buf, p)
	return err
}

func (f *fakeScope) Drain() error {
	f.buf.Reset()
	return nil
}

func (f *fakeScope) SetDeadline(t time.Time) error { return nil }

func (f *fakeScope) Close() error { return nil }

// queries returns the query traffic seen so far, commands excluded.
func (f *fakeScope) queries() []string {
	var out []string
	for _, w := range f.wrote {
		if strings.HasSuffix(w, "?") {
			out = append(out, w)
		}
	}
	return out
}

func newTestEngine(link *fakeScope) *scpi.Engine {
	return scpi.NewEngine(link,
		scpi.WithBackoff(time.Millisecond),
		scpi.WithResyncRetries(1),
		scpi.WithIDMatch("MSO58"),
	)
}

func newTestDevice(t *testing.T) (*Device, *fakeScope) {
	t.Helper()

	link := newFakeScope()
	eng := newTestEngine(link)
	dev, err := New(eng, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}
	return dev, link
}
