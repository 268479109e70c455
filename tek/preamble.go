// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tek

import (
	"strconv"
	"strings"
)

// Enumerated preamble subfields. Unknown enumerants decode to the
// Unrecognized value of their kind and propagate to the caller: future
// firmware adds variants, and failing the whole decode over one field
// would discard an otherwise good capture.

// encodingKind is the wire encoding of the sample block.
type encodingKind int

const (
	encUnrecognized encodingKind = iota
	encBinary
	encASCII
)

// byteOrder is the sample byte order declared by the preamble.
type byteOrder int

const (
	orderUnrecognized byteOrder = iota
	orderLSB
	orderMSB
)

// domainKind selects the time- or frequency-domain interpretation of
// the preamble's numeric fields.
type domainKind int

const (
	domainUnrecognized domainKind = iota
	domainTime
	domainFrequency
)

// timeAxis holds the x-axis description of a time-domain capture.
type timeAxis struct {
	incr float64 // seconds per point
	zero float64 // x value of the first point, seconds
}

// freqAxis holds the x-axis description of a frequency-domain capture.
type freqAxis struct {
	binSize    float64 // Hz per bin
	offset     float64 // frequency of the first bin, Hz
	centerFreq float64 // Hz
	span       float64 // Hz
}

// preamble is the decoded self-describing header preceding a binary
// sample block. Exactly one of tm/fr is meaningful, selected by domain;
// the wire format overlays both interpretations on the same fields.
type preamble struct {
	byteNum  int // bytes per point
	bitNum   int // bits per point
	encoding encodingKind
	binFmt   string
	ascFmt   string
	order    byteOrder
	wfid     string
	nrPt     int // point count
	ptFmt    string
	ptOrder  string
	ptOff    int
	xunit    string
	yunit    string

	ymult float64 // y-axis affine transform: v = (code-yoff)*ymult + yzero
	yoff  float64
	yzero float64

	domain  domainKind
	wfmType string

	tm timeAxis
	fr freqAxis
}

// value converts a raw sample code to its physical value.
func (pre *preamble) value(code float64) float32 {
	return float32((code-pre.yoff)*pre.ymult + pre.yzero)
}

// parsePreamble decodes the semicolon-separated WFMOUTPRE? reply.
//
// Field order follows the programmer manual, but string subfields are
// recognized by content where the firmware is known to reorder them.
// Numeric x-axis fields are stored in both the time and the frequency
// interpretation until the domain tag, late in the reply, selects one.
func parsePreamble(raw string) (*preamble, error) {
	fields := strings.Split(raw, ";")
	if len(fields) < 17 {
		return nil, &DecodeError{
			Channel: -1,
			Reason:  "truncated preamble: " + strconv.Itoa(len(fields)) + " fields",
		}
	}
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}

	pre := &preamble{domain: domainTime}

	var (
		err  error
		errf = func(name string, e error) error {
			return &DecodeError{Channel: -1, Reason: "bad " + name + " field: " + e.Error()}
		}
	)

	pre.byteNum, err = strconv.Atoi(fields[0])
	if err != nil {
		return nil, errf("byte_num", err)
	}
	pre.bitNum, err = strconv.Atoi(fields[1])
	if err != nil {
		return nil, errf("bit_num", err)
	}

	// encoding, binary format, ASCII format, byte order and waveform id
	// occupy fields 2..6, but firmware revisions are known to reorder
	// them. Each is recognized by content, not by position.
	for _, f := range fields[2:7] {
		f = unquote(f)
		switch {
		case parseEncoding(f) != encUnrecognized:
			pre.encoding = parseEncoding(f)
		case parseByteOrder(f) != orderUnrecognized:
			pre.order = parseByteOrder(f)
		case f == "RI" || f == "RP":
			pre.binFmt = f
		case f == "FP" || f == "SI" || f == "UI":
			pre.ascFmt = f
		default:
			pre.wfid = f
		}
	}

	pre.nrPt, err = strconv.Atoi(fields[7])
	if err != nil {
		return nil, errf("nr_pt", err)
	}

	pre.ptFmt = unquote(fields[8])
	pre.ptOrder = unquote(fields[9])
	pre.xunit = unquote(fields[10])

	// x-axis pair: time increment/zero or frequency bin/offset,
	// disambiguated by the domain tag further down.
	xincr, err := strconv.ParseFloat(fields[11], 64)
	if err != nil {
		return nil, errf("xincr", err)
	}
	xzero, err := strconv.ParseFloat(fields[12], 64)
	if err != nil {
		return nil, errf("xzero", err)
	}

	pre.ptOff, err = strconv.Atoi(fields[13])
	if err != nil {
		return nil, errf("pt_off", err)
	}

	pre.yunit = unquote(fields[14])
	pre.ymult, err = strconv.ParseFloat(fields[15], 64)
	if err != nil {
		return nil, errf("ymult", err)
	}
	pre.yoff, err = strconv.ParseFloat(fields[16], 64)
	if err != nil {
		return nil, errf("yoff", err)
	}
	if len(fields) > 17 {
		pre.yzero, err = strconv.ParseFloat(fields[17], 64)
		if err != nil {
			return nil, errf("yzero", err)
		}
	}

	if len(fields) > 18 {
		pre.domain = parseDomain(unquote(fields[18]))
	}
	if len(fields) > 19 {
		pre.wfmType = unquote(fields[19])
	}

	switch pre.domain {
	case domainFrequency:
		pre.fr.binSize = xincr
		pre.fr.offset = xzero
		if len(fields) > 20 {
			pre.fr.centerFreq, err = strconv.ParseFloat(fields[20], 64)
			if err != nil {
				return nil, errf("centerfrequency", err)
			}
		}
		if len(fields) > 21 {
			pre.fr.span, err = strconv.ParseFloat(fields[21], 64)
			if err != nil {
				return nil, errf("span", err)
			}
		}
	default:
		pre.tm.incr = xincr
		pre.tm.zero = xzero
	}

	return pre, nil
}

// checkBlock validates the declared point geometry against the byte
// length of the binary block that followed the preamble. A mismatch is
// a decode error, never a silent truncation.
func (pre *preamble) checkBlock(ch int, blockLen int) error {
	if pre.byteNum <= 0 {
		return &DecodeError{Channel: ch, Reason: "non-positive bytes-per-point"}
	}
	want := pre.nrPt * pre.byteNum
	if blockLen != want {
		return &DecodeError{
			Channel: ch,
			Reason: "block length " + strconv.Itoa(blockLen) +
				" does not match " + strconv.Itoa(pre.nrPt) + " points of " +
				strconv.Itoa(pre.byteNum) + " bytes",
		}
	}
	return nil
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func parseEncoding(s string) encodingKind {
	switch strings.ToUpper(s) {
	case "BIN", "BINARY":
		return encBinary
	case "ASC", "ASCII":
		return encASCII
	}
	return encUnrecognized
}

func parseByteOrder(s string) byteOrder {
	switch strings.ToUpper(s) {
	case "LSB":
		return orderLSB
	case "MSB":
		return orderMSB
	}
	return orderUnrecognized
}

func parseDomain(s string) domainKind {
	switch strings.ToUpper(s) {
	case "TIME":
		return domainTime
	case "FREQUENCY":
		return domainFrequency
	}
	return domainUnrecognized
}
