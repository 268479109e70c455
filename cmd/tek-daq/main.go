// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tek-daq starts a TDAQ server streaming waveform frames from
// a Tektronix scope.
package main // import "github.com/l1g4v/scopehal/cmd/tek-daq"

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/l1g4v/scopehal/scpi"
	"github.com/l1g4v/scopehal/tek"
	"github.com/l1g4v/scopehal/wave"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) < 1 {
		log.Fatalf("missing scope address argument")
	}

	daq := tekDAQ{
		addr: cmd.Args[0],
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", daq.OnConfig)
	srv.CmdHandle("/init", daq.OnInit)
	srv.CmdHandle("/reset", daq.OnReset)
	srv.CmdHandle("/start", daq.OnStart)
	srv.CmdHandle("/stop", daq.OnStop)
	srv.CmdHandle("/quit", daq.OnQuit)

	srv.OutputHandle("/waveforms", daq.waveforms)

	srv.RunHandle(daq.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type tekDAQ struct {
	addr string

	eng *scpi.Engine
	dev *tek.Device

	n    int // frames read since start
	data chan []byte
}

// event is the wire form of one trigger event on the /waveforms port.
type event struct {
	Channel   int       `json:"channel"`
	Timescale int64     `json:"timescale_ps"`
	Analog    []float32 `json:"analog,omitempty"`
	Digital   []bool    `json:"digital,omitempty"`
}

func (daq *tekDAQ) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return nil
}

func (daq *tekDAQ) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return daq.connect()
}

func (daq *tekDAQ) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if daq.eng != nil {
		_ = daq.eng.Close()
		daq.eng = nil
		daq.dev = nil
	}
	return daq.connect()
}

func (daq *tekDAQ) connect() error {
	t, err := scpi.Dial(daq.addr)
	if err != nil {
		return err
	}
	daq.eng = scpi.NewEngine(t)
	daq.dev, err = tek.New(daq.eng)
	if err != nil {
		_ = daq.eng.Close()
		daq.eng = nil
		return err
	}
	daq.data = make(chan []byte, 128)
	daq.n = 0
	return nil
}

func (daq *tekDAQ) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return daq.dev.Start()
}

func (daq *tekDAQ) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command... -> n=%d", daq.n)
	return daq.dev.Stop()
}

func (daq *tekDAQ) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if daq.eng != nil {
		_ = daq.dev.Stop()
		return daq.eng.Close()
	}
	return nil
}

func (daq *tekDAQ) waveforms(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-daq.data:
		dst.Body = data
	}
	return nil
}

func (daq *tekDAQ) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
		}

		mode, err := daq.dev.PollTrigger()
		if err != nil {
			ctx.Msg.Errorf("could not poll trigger: %+v", err)
			return err
		}
		if mode != tek.Triggered {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		frame, err := daq.dev.AcquireData()
		if err != nil {
			ctx.Msg.Errorf("could not acquire data: %+v", err)
			continue
		}
		raw, err := encode(frame)
		if err != nil {
			ctx.Msg.Errorf("could not encode frame: %+v", err)
			continue
		}
		select {
		case daq.data <- raw:
			daq.n++
		default:
			// slow consumer: drop the frame rather than stall the
			// acquisition loop.
		}
	}
}

func encode(frame tek.Frame) ([]byte, error) {
	var evts []event
	for ch, wfs := range frame {
		for _, wf := range wfs {
			evt := event{
				Channel:   ch,
				Timescale: wf.Meta().Timescale,
			}
			switch wf := wf.(type) {
			case *wave.Analog:
				evt.Analog = wf.Samples
			case *wave.Digital:
				evt.Digital = wf.Samples
			}
			evts = append(evts, evt)
		}
	}
	return json.Marshal(evts)
}
