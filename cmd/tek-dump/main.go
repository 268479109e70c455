// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tek-dump captures trigger events from one or more Tektronix
// scopes and writes the waveforms to disk, one CSV file per channel
// per event.
package main // import "github.com/l1g4v/scopehal/cmd/tek-dump"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/l1g4v/scopehal/scpi"
	"github.com/l1g4v/scopehal/tek"
	"github.com/l1g4v/scopehal/wave"
)

func main() {
	log.SetPrefix("tek-dump: ")
	log.SetFlags(0)

	var (
		addrs = flag.String("addr", "", "comma-separated scope addresses (host:port)")
		odir  = flag.String("o", ".", "output directory")
		nevts = flag.Int("n", 1, "number of trigger events to capture per scope")
		freq  = flag.Duration("poll", 10*time.Millisecond, "trigger poll interval")
	)
	flag.Parse()

	if *addrs == "" {
		flag.Usage()
		log.Fatalf("missing scope address(es)")
	}

	var grp errgroup.Group
	for i, addr := range strings.Split(*addrs, ",") {
		i, addr := i, addr
		grp.Go(func() error {
			return dump(i, addr, *odir, *nevts, *freq)
		})
	}
	err := grp.Wait()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func dump(id int, addr, odir string, nevts int, poll time.Duration) error {
	t, err := scpi.Dial(addr)
	if err != nil {
		return fmt.Errorf("could not dial %q: %w", addr, err)
	}
	eng := scpi.NewEngine(t)
	defer eng.Close()

	dev, err := tek.New(eng)
	if err != nil {
		return fmt.Errorf("could not identify scope %q: %w", addr, err)
	}

	for evt := 0; evt < nevts; evt++ {
		err = dev.StartSingleTrigger()
		if err != nil {
			return fmt.Errorf("could not arm scope %q: %w", addr, err)
		}

		for {
			mode, err := dev.PollTrigger()
			if err != nil {
				return fmt.Errorf("could not poll scope %q: %w", addr, err)
			}
			if mode == tek.Triggered {
				break
			}
			time.Sleep(poll)
		}

		frame, err := dev.AcquireData()
		if err != nil {
			return fmt.Errorf("could not read event %d from %q: %w", evt, addr, err)
		}

		for ch, wfs := range frame {
			for k, wf := range wfs {
				fname := filepath.Join(odir, fmt.Sprintf(
					"scope%d-evt%03d-ch%02d-%d.csv", id, evt, ch, k,
				))
				err = writeCSV(fname, wf)
				if err != nil {
					return fmt.Errorf("could not write %q: %w", fname, err)
				}
			}
		}
		log.Printf("scope %d: event %d: %d channel(s)", id, evt, len(frame))
	}
	return nil
}

func writeCSV(fname string, wf wave.Data) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}

	meta := wf.Meta()
	fmt.Fprintf(f, "# timescale_ps=%d trigger_phase_ps=%g\n",
		meta.Timescale, meta.TriggerPhase,
	)
	switch wf := wf.(type) {
	case *wave.Analog:
		for i, v := range wf.Samples {
			fmt.Fprintf(f, "%d,%g\n", int64(i)*meta.Timescale, v)
		}
	case *wave.Digital:
		for i, v := range wf.Samples {
			b := 0
			if v {
				b = 1
			}
			fmt.Fprintf(f, "%d,%d\n", int64(i)*meta.Timescale, b)
		}
	}
	return f.Close()
}
