// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scpi

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeLink scripts an instrument: each written command is handed to
// handle, whose reply bytes become available to subsequent reads. A
// nil reply simulates the silent-drop failure mode: nothing is queued
// and the next read times out.
type fakeLink struct {
	handle func(cmd string) []byte

	buf    bytes.Buffer
	wrote  []string
	closed bool
}

func (f *fakeLink) Write(p []byte) error {
	cmd := strings.TrimSuffix(string(p), "\n")
	f.wrote = append(f.wrote, cmd)
	if rep := f.handle(cmd); rep != nil {
		f.buf.Write(rep)
	}
	return nil
}

func (f *fakeLink) ReadLine() (string, error) {
	line, err := f.buf.ReadString('\n')
	if err != nil {
		return "", errors.New("fake: read timeout")
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (f *fakeLink) ReadFull(p []byte) error {
	_, err := io.ReadFull(&f.buf, p)
	return err
}

func (f *fakeLink) Drain() error {
	f.buf.Reset()
	return nil
}

func (f *fakeLink) SetDeadline(t time.Time) error { return nil }

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

func TestQuery(t *testing.T) {
	link := &fakeLink{
		handle: func(cmd string) []byte {
			switch cmd {
			case "*IDN?":
				return []byte("TEKTRONIX,MSO58,C013880,CF:91.1CT\n")
			case "CH1:SCALE?":
				return []byte("500.0000E-3\n")
			}
			return nil
		},
	}
	eng := NewEngine(link)

	got, err := eng.Query("*IDN?")
	if err != nil {
		t.Fatalf("could not query: %+v", err)
	}
	if want := "TEKTRONIX,MSO58,C013880,CF:91.1CT"; got != want {
		t.Fatalf("invalid reply: got=%q, want=%q", got, want)
	}

	v, err := eng.QueryFloat("CH1:SCALE?")
	if err != nil {
		t.Fatalf("could not query float: %+v", err)
	}
	if want := 0.5; v != want {
		t.Fatalf("invalid value: got=%v, want=%v", v, want)
	}
}

func TestQueryResync(t *testing.T) {
	drops := 1
	link := &fakeLink{
		handle: func(cmd string) []byte {
			switch cmd {
			case "*IDN?":
				return []byte("TEKTRONIX,MSO58,C013880,CF:91.1CT\n")
			case "CH1:SCALE?":
				if drops > 0 {
					drops--
					return nil
				}
				return []byte("1.0\n")
			}
			return nil
		},
	}
	eng := NewEngine(link, WithBackoff(time.Millisecond))

	v, err := eng.QueryFloat("CH1:SCALE?")
	if err != nil {
		t.Fatalf("could not recover from dropped reply: %+v", err)
	}
	if want := 1.0; v != want {
		t.Fatalf("invalid value: got=%v, want=%v", v, want)
	}

	want := []string{"CH1:SCALE?", "*IDN?", "CH1:SCALE?"}
	if got := link.wrote; !equalStrings(got, want) {
		t.Fatalf("invalid traffic:\ngot = %q\nwant= %q", got, want)
	}
}

func TestQueryStaleReply(t *testing.T) {
	// a reply replayed from an exchange abandoned before a reconnect.
	stale := 1
	link := &fakeLink{
		handle: func(cmd string) []byte {
			switch cmd {
			case "*IDN?":
				if stale > 0 {
					stale--
					return []byte("500.0000E-3\n")
				}
				return []byte("TEKTRONIX,MSO58,C013880,CF:91.1CT\n")
			case "TRIGGER:STATE?":
				if stale > 0 {
					return nil
				}
				return []byte("ARMED\n")
			}
			return nil
		},
	}
	eng := NewEngine(link,
		WithBackoff(time.Millisecond),
		WithIDMatch("MSO58"),
	)

	// the first query is dropped; during the resync that follows the
	// stale number must not be accepted as an identify reply.
	got, err := eng.Query("TRIGGER:STATE?")
	if err != nil {
		t.Fatalf("could not recover across stale reply: %+v", err)
	}
	if want := "ARMED"; got != want {
		t.Fatalf("invalid reply: got=%q, want=%q", got, want)
	}

	want := []string{"TRIGGER:STATE?", "*IDN?", "*IDN?", "TRIGGER:STATE?"}
	if got := link.wrote; !equalStrings(got, want) {
		t.Fatalf("invalid traffic:\ngot = %q\nwant= %q", got, want)
	}
}

func TestFatalDesync(t *testing.T) {
	link := &fakeLink{
		handle: func(cmd string) []byte { return nil },
	}
	eng := NewEngine(link,
		WithBackoff(time.Millisecond),
		WithResyncRetries(3),
	)

	_, err := eng.Query("CH1:SCALE?")
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrDesync)
	}

	// query + 3 identify probes, not one byte more.
	if got, want := len(link.wrote), 4; got != want {
		t.Fatalf("invalid traffic count: got=%d, want=%d", got, want)
	}

	// the dead link refuses all traffic until Reset.
	_, err = eng.Query("CH1:SCALE?")
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("invalid error on dead link: got=%+v, want=%+v", err, ErrDesync)
	}
	if err := eng.Cmd("ACQUIRE:STATE STOP"); !errors.Is(err, ErrDesync) {
		t.Fatalf("invalid error on dead link: got=%+v, want=%+v", err, ErrDesync)
	}
	if got, want := len(link.wrote), 4; got != want {
		t.Fatalf("dead link still talks: got=%d writes, want=%d", got, want)
	}

	// Reset re-arms the engine.
	eng.Reset(nil)
	link.handle = func(cmd string) []byte { return []byte("1.0\n") }
	if _, err := eng.Query("CH1:SCALE?"); err != nil {
		t.Fatalf("could not query after reset: %+v", err)
	}
}

func TestQueryBlock(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reply []byte
		want  []byte
		err   string
	}{
		{
			name:  "simple",
			reply: []byte("#15hello\n"),
			want:  []byte("hello"),
		},
		{
			name:  "multi-digit-length",
			reply: append(append([]byte("#212"), bytes.Repeat([]byte{0x42}, 12)...), '\n'),
			want:  bytes.Repeat([]byte{0x42}, 12),
		},
		{
			name:  "empty",
			reply: []byte("#10\n"),
			want:  []byte{},
		},
		{
			name:  "bad-marker",
			reply: []byte("X15hello\n"),
			err:   `scpi: block query "CURVE?" failed after resync: scpi: invalid block header marker (got='X')`,
		},
		{
			name:  "bad-digit-count",
			reply: []byte("#05hello\n"),
			err:   `scpi: block query "CURVE?" failed after resync: scpi: invalid block length-digit count (got='0')`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			link := &fakeLink{
				handle: func(cmd string) []byte {
					switch cmd {
					case "*IDN?":
						return []byte("TEKTRONIX,MSO58,C013880,CF:91.1CT\n")
					case "CURVE?":
						return tc.reply
					}
					return nil
				},
			}
			eng := NewEngine(link, WithBackoff(time.Millisecond))

			got, err := eng.QueryBlock("CURVE?")
			switch {
			case err != nil && tc.err == "":
				t.Fatalf("could not query block: %+v", err)
			case err == nil && tc.err != "":
				t.Fatalf("expected an error (want=%s)", tc.err)
			case err != nil:
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot = %s\nwant= %s", got, want)
				}
				return
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("invalid payload: got=%q, want=%q", got, tc.want)
			}
		})
	}
}

func TestQueryBool(t *testing.T) {
	for _, tc := range []struct {
		reply string
		want  bool
		err   string
	}{
		{reply: "0\n", want: false},
		{reply: "1\n", want: true},
		{reply: "OFF\n", want: false},
		{reply: "ON\n", want: true},
		{reply: "MAYBE\n", err: `scpi: could not parse reply "MAYBE" to "FLAG?"`},
	} {
		t.Run(strings.TrimSpace(tc.reply), func(t *testing.T) {
			link := &fakeLink{
				handle: func(cmd string) []byte { return []byte(tc.reply) },
			}
			eng := NewEngine(link)

			got, err := eng.QueryBool("FLAG?")
			switch {
			case err != nil && tc.err == "":
				t.Fatalf("could not query bool: %+v", err)
			case err == nil && tc.err != "":
				t.Fatalf("expected an error (want=%s)", tc.err)
			case err != nil:
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot = %s\nwant= %s", got, want)
				}
				return
			}
			if got != tc.want {
				t.Fatalf("invalid value: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
