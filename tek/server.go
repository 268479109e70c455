// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/l1g4v/scopehal/scpi"
	"github.com/l1g4v/scopehal/wave"
)

// scope is the driver surface the control server exercises.
type scope interface {
	Start() error
	StartSingleTrigger() error
	Stop() error
	ForceTrigger() error
	PollTrigger() (TriggerMode, error)
	AcquireData() (Frame, error)
	FlushConfigCache()
	EnableChannel(i int) error
	DisableChannel(i int) error
}

// server allows to control one scope remotely over a JSON command
// stream. One client at a time: the instrument protocol cannot
// multiplex, so neither does the server.
type server struct {
	ctl net.Listener

	msg  *log.Logger
	addr string // instrument address

	newScope func(addr string) (scope, io.Closer, error)

	opts []Option
}

// Serve listens on ctlAddr for JSON control clients and drives the
// scope at scopeAddr on their behalf. A fresh instrument connection
// is made per client session.
func Serve(ctlAddr, scopeAddr string, opts ...Option) error {
	srv, err := newServer(ctlAddr, scopeAddr, opts...)
	if err != nil {
		return fmt.Errorf("tek: could not create control server: %w", err)
	}
	return srv.serve()
}

func newServer(ctlAddr, scopeAddr string, opts ...Option) (*server, error) {
	ctl, err := net.Listen("tcp", ctlAddr)
	if err != nil {
		return nil, fmt.Errorf("tek: could not listen on %q: %w", ctlAddr, err)
	}

	srv := &server{
		ctl:  ctl,
		msg:  log.New(os.Stdout, "tek-svc: ", 0),
		addr: scopeAddr,
		opts: opts,
	}
	srv.newScope = func(addr string) (scope, io.Closer, error) {
		t, err := scpi.Dial(addr)
		if err != nil {
			return nil, nil, err
		}
		eng := scpi.NewEngine(t)
		dev, err := New(eng, srv.opts...)
		if err != nil {
			_ = eng.Close()
			return nil, nil, err
		}
		return dev, eng, nil
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("tek: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not serve client: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dev, closer, err := srv.newScope(srv.addr)
	if err != nil {
		srv.reply(conn, err, nil)
		return fmt.Errorf("tek: could not connect to scope at %q: %w", srv.addr, err)
	}
	defer closer.Close()

loop:
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}

		err = json.NewDecoder(conn).Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err, nil)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "start":
			err = dev.Start()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not start acquisition: %+v", err)
			}

		case "start-single":
			err = dev.StartSingleTrigger()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not arm one-shot acquisition: %+v", err)
			}

		case "force":
			err = dev.ForceTrigger()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not force trigger: %+v", err)
			}

		case "poll":
			mode, err := dev.PollTrigger()
			srv.reply(conn, err, mode.String())
			if err != nil {
				srv.msg.Printf("could not poll trigger: %+v", err)
			}

		case "acquire":
			frame, err := dev.AcquireData()
			if err != nil {
				srv.msg.Printf("could not acquire data: %+v", err)
				srv.reply(conn, err, nil)
				continue
			}
			srv.reply(conn, nil, summarize(frame))

		case "enable", "disable":
			var args []int
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, err, nil)
				continue
			}
			for _, ch := range args {
				if req.Name == "enable" {
					err = dev.EnableChannel(ch)
				} else {
					err = dev.DisableChannel(ch)
				}
				if err != nil {
					break
				}
			}
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not %s channels %v: %+v", req.Name, args, err)
			}

		case "flush-cache":
			dev.FlushConfigCache()
			srv.reply(conn, nil, nil)

		case "stop":
			err = dev.Stop()
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not stop acquisition: %+v", err)
				return fmt.Errorf("tek: could not stop acquisition: %w", err)
			}
			break loop

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("unknown command %q", req.Name)
			srv.reply(conn, err, nil)
			continue
		}
	}

	return nil
}

// channelSummary is the per-channel digest sent back for "acquire".
// Raw samples stay on the server side; clients wanting bulk data
// should drive the instrument directly.
type channelSummary struct {
	Channel   int   `json:"channel"`
	Waveforms int   `json:"waveforms"`
	Samples   int   `json:"samples"`
	Timescale int64 `json:"timescale_ps"`
}

func summarize(frame Frame) []channelSummary {
	var out []channelSummary
	for ch, wfs := range frame {
		sum := channelSummary{Channel: ch, Waveforms: len(wfs)}
		for _, wf := range wfs {
			switch wf := wf.(type) {
			case *wave.Analog:
				sum.Samples += len(wf.Samples)
			case *wave.Digital:
				sum.Samples += len(wf.Samples)
			}
			sum.Timescale = wf.Meta().Timescale
		}
		out = append(out, sum)
	}
	return out
}

func (srv *server) reply(conn net.Conn, err error, data interface{}) {
	rep := struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{Msg: "ok", Data: data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
