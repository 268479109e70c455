// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scpi

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// Engine serializes all command/query traffic towards one instrument
// and repairs protocol desynchronization.
//
// A query that times out or yields a reply of unexpected shape starts a
// resync sequence: buffered bytes are drained and a benign identify
// query is issued with bounded retries and doubling backoff until a
// well-formed reply is seen. Replies left over from an abandoned
// exchange (the device may replay output across a connection drop) are
// discarded during resync. If the retry budget is exhausted the engine
// marks the link dead and refuses further traffic until Reset.
type Engine struct {
	mu sync.Mutex
	t  Transport

	msg   *log.Logger
	stats *Stats

	timeout time.Duration
	retries int
	backoff time.Duration
	idMatch string // substring expected in the identify reply

	dead bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-exchange timeout.
func WithTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.timeout = d }
}

// WithResyncRetries sets the number of identify probes attempted during
// a resync sequence before the link is declared dead.
func WithResyncRetries(n int) Option {
	return func(eng *Engine) { eng.retries = n }
}

// WithBackoff sets the initial delay between resync probes.
// The delay doubles after each failed probe.
func WithBackoff(d time.Duration) Option {
	return func(eng *Engine) { eng.backoff = d }
}

// WithIDMatch sets the substring that a well-formed identify reply must
// contain. Resync replies without it are treated as stale output from a
// prior exchange and discarded.
func WithIDMatch(sub string) Option {
	return func(eng *Engine) { eng.idMatch = sub }
}

// WithLogger sets the logger used for resync diagnostics.
func WithLogger(msg *log.Logger) Option {
	return func(eng *Engine) { eng.msg = msg }
}

// WithStats attaches a metrics collector to the engine.
func WithStats(stats *Stats) Option {
	return func(eng *Engine) { eng.stats = stats }
}

// NewEngine creates an engine on top of t.
func NewEngine(t Transport, opts ...Option) *Engine {
	eng := &Engine{
		t:       t,
		timeout: 5 * time.Second,
		retries: 5,
		backoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Reset clears the dead-link state after the caller has re-established
// the underlying connection.
func (eng *Engine) Reset(t Transport) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if t != nil {
		eng.t = t
	}
	eng.dead = false
}

// Close closes the underlying transport.
func (eng *Engine) Close() error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.t.Close()
}

// Cmd sends a command that produces no reply.
func (eng *Engine) Cmd(cmd string) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.dead {
		return ErrDesync
	}
	eng.count(func(s *Stats) { s.exchanges.Inc() })
	return eng.send(cmd)
}

// Query sends a query and returns its one-line textual reply.
//
// A failed exchange triggers exactly one resync sequence followed by a
// single retry of the query; a second failure is surfaced as-is.
func (eng *Engine) Query(query string) (string, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.dead {
		return "", ErrDesync
	}
	eng.count(func(s *Stats) { s.exchanges.Inc() })

	reply, err := eng.exchange(query)
	if err == nil {
		return reply, nil
	}
	eng.count(func(s *Stats) { s.timeouts.Inc() })

	if err = eng.resync(); err != nil {
		return "", err
	}
	reply, err = eng.exchange(query)
	if err != nil {
		return "", xerrors.Errorf("scpi: query %q failed after resync: %w", query, err)
	}
	return reply, nil
}

// QueryBlock sends a query whose reply is an IEEE-488.2 length-prefixed
// binary block ('#' + digit-count + length + payload) and returns the
// payload.
func (eng *Engine) QueryBlock(query string) ([]byte, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.dead {
		return nil, ErrDesync
	}
	eng.count(func(s *Stats) { s.exchanges.Inc() })

	raw, err := eng.blockExchange(query)
	if err == nil {
		return raw, nil
	}
	eng.count(func(s *Stats) { s.timeouts.Inc() })

	if err = eng.resync(); err != nil {
		return nil, err
	}
	raw, err = eng.blockExchange(query)
	if err != nil {
		return nil, xerrors.Errorf("scpi: block query %q failed after resync: %w", query, err)
	}
	return raw, nil
}

// QueryFloat sends a query and parses its reply as a float64.
func (eng *Engine) QueryFloat(query string) (float64, error) {
	reply, err := eng.Query(query)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, xerrors.Errorf("scpi: could not parse reply %q to %q: %w", reply, query, err)
	}
	return v, nil
}

// QueryInt sends a query and parses its reply as an int64.
func (eng *Engine) QueryInt(query string) (int64, error) {
	reply, err := eng.Query(query)
	if err != nil {
		return 0, err
	}
	// numeric replies may come back in exponent notation.
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, xerrors.Errorf("scpi: could not parse reply %q to %q: %w", reply, query, err)
	}
	return int64(v), nil
}

// QueryBool sends a query and parses its reply as a 0/1 flag.
func (eng *Engine) QueryBool(query string) (bool, error) {
	reply, err := eng.Query(query)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(reply) {
	case "0", "OFF":
		return false, nil
	case "1", "ON":
		return true, nil
	}
	return false, xerrors.Errorf("scpi: could not parse reply %q to %q", reply, query)
}

func (eng *Engine) send(cmd string) error {
	err := eng.t.SetDeadline(time.Now().Add(eng.timeout))
	if err != nil {
		return xerrors.Errorf("scpi: could not set deadline: %w", err)
	}
	return eng.t.Write([]byte(cmd + "\n"))
}

func (eng *Engine) exchange(query string) (string, error) {
	if err := eng.send(query); err != nil {
		return "", err
	}
	reply, err := eng.t.ReadLine()
	if err != nil {
		return "", ErrTimeout
	}
	return reply, nil
}

func (eng *Engine) blockExchange(query string) ([]byte, error) {
	if err := eng.send(query); err != nil {
		return nil, err
	}

	var hdr [2]byte
	if err := eng.t.ReadFull(hdr[:]); err != nil {
		return nil, ErrTimeout
	}
	if hdr[0] != '#' {
		return nil, xerrors.Errorf("scpi: invalid block header marker (got=%q)", hdr[0])
	}
	ndigits := int(hdr[1] - '0')
	if ndigits < 1 || ndigits > 9 {
		return nil, xerrors.Errorf("scpi: invalid block length-digit count (got=%q)", hdr[1])
	}

	digits := make([]byte, ndigits)
	if err := eng.t.ReadFull(digits); err != nil {
		return nil, ErrTimeout
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, xerrors.Errorf("scpi: invalid block length %q: %w", digits, err)
	}

	raw := make([]byte, n)
	if err := eng.t.ReadFull(raw); err != nil {
		return nil, ErrTimeout
	}

	// trailing terminator after the block payload.
	if _, err := eng.t.ReadLine(); err != nil {
		return nil, ErrTimeout
	}
	return raw, nil
}

// resync drains the link and probes it with identify queries until a
// well-formed reply is observed.
func (eng *Engine) resync() error {
	eng.count(func(s *Stats) { s.resyncs.Inc() })
	if eng.msg != nil {
		eng.msg.Printf("link out of sync, resynchronizing...")
	}

	delay := eng.backoff
	for i := 0; i < eng.retries; i++ {
		if i > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		_ = eng.t.Drain()

		reply, err := eng.exchange("*IDN?")
		if err != nil {
			continue
		}
		if eng.idMatch != "" && !strings.Contains(reply, eng.idMatch) {
			// stale reply replayed from an abandoned exchange.
			// drop it and probe again.
			if eng.msg != nil {
				eng.msg.Printf("discarding stale reply %q", reply)
			}
			continue
		}
		if eng.msg != nil {
			eng.msg.Printf("link resynchronized")
		}
		return nil
	}

	eng.dead = true
	if eng.msg != nil {
		eng.msg.Printf("resync failed after %d attempts, link is dead", eng.retries)
	}
	return ErrDesync
}

func (eng *Engine) count(f func(*Stats)) {
	if eng.stats != nil {
		f(eng.stats)
	}
}
