// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tek-shell is an interactive console for a Tektronix scope.
//
// Lines ending in '?' are sent as SCPI queries and their reply
// printed; other lines starting with an upper-case letter are sent as
// bare SCPI commands. Lower-case verbs drive the high-level driver:
//
//	start | single | stop | force | poll | acquire
//	enable <ch> | disable <ch> | flush | quit
package main // import "github.com/l1g4v/scopehal/cmd/tek-shell"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/l1g4v/scopehal"
	"github.com/l1g4v/scopehal/scpi"
	"github.com/l1g4v/scopehal/tek"
	"github.com/l1g4v/scopehal/wave"
)

func main() {
	log.SetPrefix("tek-shell: ")
	log.SetFlags(0)

	var (
		addr = flag.String("addr", "", "address of the scope (host:port)")
	)
	flag.Parse()

	if *addr == "" {
		flag.Usage()
		log.Fatalf("missing scope address")
	}
	if version, _ := scopehal.Version(); version != "" {
		log.Printf("version=%s", version)
	}

	err := run(*addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr string) error {
	t, err := scpi.Dial(addr)
	if err != nil {
		return fmt.Errorf("could not dial %q: %w", addr, err)
	}
	eng := scpi.NewEngine(t)
	defer eng.Close()

	dev, err := tek.New(eng)
	if err != nil {
		return fmt.Errorf("could not identify scope: %w", err)
	}

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	history := filepath.Join(os.TempDir(), ".tek-shell-history")
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("tek> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		if line == "quit" || line == "exit" {
			return nil
		}
		err = eval(dev, eng, line)
		if err != nil {
			log.Printf("error: %+v", err)
		}
	}
}

func eval(dev *tek.Device, eng *scpi.Engine, line string) error {
	toks := strings.Fields(line)
	switch toks[0] {
	case "start":
		return dev.Start()
	case "single":
		return dev.StartSingleTrigger()
	case "stop":
		return dev.Stop()
	case "force":
		return dev.ForceTrigger()
	case "poll":
		mode, err := dev.PollTrigger()
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", mode)
		return nil
	case "acquire":
		frame, err := dev.AcquireData()
		if err != nil {
			return err
		}
		for ch, wfs := range frame {
			for _, wf := range wfs {
				switch wf := wf.(type) {
				case *wave.Analog:
					fmt.Printf("channel %d: %d analog samples (%d ps/pt)\n",
						ch, len(wf.Samples), wf.Timescale,
					)
				case *wave.Digital:
					fmt.Printf("channel %d: %d digital samples (%d ps/pt)\n",
						ch, len(wf.Samples), wf.Timescale,
					)
				}
			}
		}
		return nil
	case "enable", "disable":
		if len(toks) != 2 {
			return fmt.Errorf("usage: %s <channel>", toks[0])
		}
		ch, err := strconv.Atoi(toks[1])
		if err != nil {
			return fmt.Errorf("invalid channel %q: %w", toks[1], err)
		}
		if toks[0] == "enable" {
			return dev.EnableChannel(ch)
		}
		return dev.DisableChannel(ch)
	case "flush":
		dev.FlushConfigCache()
		return nil
	}

	// raw SCPI passthrough.
	if strings.HasSuffix(line, "?") {
		rep, err := eng.Query(line)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", rep)
		return nil
	}
	return eng.Cmd(line)
}
