// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scpi

import (
	"bufio"
	"net"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Transport is the byte-stream boundary between an Engine and the
// physical link to the instrument.
type Transport interface {
	// Write sends p to the instrument.
	Write(p []byte) error

	// ReadLine reads a terminator-delimited textual reply.
	// The terminator is stripped.
	ReadLine() (string, error)

	// ReadFull reads exactly len(p) bytes into p.
	ReadFull(p []byte) error

	// Drain discards any buffered bytes without blocking, returning
	// the parser to a byte-aligned state after a desync.
	Drain() error

	// SetDeadline bounds the next I/O operations.
	SetDeadline(t time.Time) error

	Close() error
}

// conn is the TCP transport used with LAN-attached instruments.
type conn struct {
	c    net.Conn
	r    *bufio.Reader
	term byte
}

// Dial connects to a SCPI instrument over TCP. Commands and replies are
// newline-terminated ASCII lines; binary blocks are read verbatim.
func Dial(addr string) (Transport, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("scpi: could not dial %q: %w", addr, err)
	}
	return NewConn(c), nil
}

// NewConn wraps an established connection in a Transport.
func NewConn(c net.Conn) Transport {
	return &conn{
		c:    c,
		r:    bufio.NewReader(c),
		term: '\n',
	}
}

func (t *conn) Write(p []byte) error {
	_, err := t.c.Write(p)
	if err != nil {
		return xerrors.Errorf("scpi: could not write command: %w", err)
	}
	return nil
}

func (t *conn) ReadLine() (string, error) {
	line, err := t.r.ReadString(t.term)
	if err != nil {
		return "", xerrors.Errorf("scpi: could not read reply: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *conn) ReadFull(p []byte) error {
	for len(p) > 0 {
		n, err := t.r.Read(p)
		if err != nil {
			return xerrors.Errorf("scpi: could not read binary data: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (t *conn) Drain() error {
	// near-immediate deadline: consume whatever already arrived
	// without waiting for more.
	err := t.c.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	if err != nil {
		return xerrors.Errorf("scpi: could not set drain deadline: %w", err)
	}
	var buf [512]byte
	for {
		_, err := t.r.Read(buf[:])
		if err != nil {
			break
		}
	}
	return nil
}

func (t *conn) SetDeadline(d time.Time) error {
	return t.c.SetDeadline(d)
}

func (t *conn) Close() error {
	return t.c.Close()
}
