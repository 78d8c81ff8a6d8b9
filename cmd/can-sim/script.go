package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/avrcan"
)

// A stimulus script stands in for firmware: one register access per line.
//
//	# select mailbox 2, auto-increment on
//	write CANPAGE 0x28
//	write CANMSG 0x01
//	read CANGSTA
//	expect CANGSTA 0x10
//	sleep 10ms
//	reset
//
// Registers are datasheet names or numeric data-space addresses.

type opKind int

const (
	opWrite opKind = iota
	opRead
	opExpect
	opSleep
	opReset
)

type step struct {
	line  int
	op    opKind
	reg   string
	addr  avr.Addr
	value uint8
	pause time.Duration
}

type script []step

func loadScript(path string, layout avrcan.Layout) (script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseScript(f, layout)
}

func parseScript(r io.Reader, layout avrcan.Layout) (script, error) {
	var s script
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		st, err := parseStep(fields, layout)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		st.line = n
		s = append(s, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseStep(f []string, layout avrcan.Layout) (step, error) {
	args := func(want int) error {
		if len(f)-1 != want {
			return fmt.Errorf("%s takes %d argument(s), got %d", f[0], want, len(f)-1)
		}
		return nil
	}
	var st step
	var err error
	switch strings.ToLower(f[0]) {
	case "write", "expect":
		if err := args(2); err != nil {
			return st, err
		}
		st.op = opWrite
		if strings.EqualFold(f[0], "expect") {
			st.op = opExpect
		}
		if st.addr, err = parseAddr(f[1], layout); err != nil {
			return st, err
		}
		v, err := strconv.ParseUint(f[2], 0, 8)
		if err != nil {
			return st, fmt.Errorf("value %q: %w", f[2], err)
		}
		st.reg, st.value = f[1], uint8(v)
	case "read":
		if err := args(1); err != nil {
			return st, err
		}
		st.op = opRead
		if st.addr, err = parseAddr(f[1], layout); err != nil {
			return st, err
		}
		st.reg = f[1]
	case "sleep":
		if err := args(1); err != nil {
			return st, err
		}
		st.op = opSleep
		if st.pause, err = time.ParseDuration(f[1]); err != nil {
			return st, err
		}
		if st.pause < 0 {
			return st, fmt.Errorf("negative sleep %s", f[1])
		}
	case "reset":
		if err := args(0); err != nil {
			return st, err
		}
		st.op = opReset
	default:
		return st, fmt.Errorf("unknown command %q", f[0])
	}
	return st, nil
}

func parseAddr(s string, layout avrcan.Layout) (avr.Addr, error) {
	if a, ok := layout.Lookup(strings.ToUpper(s)); ok {
		return a, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	if v >= dataSpaceSize {
		return 0, fmt.Errorf("address %s outside the 0x%X byte data space", s, dataSpaceSize)
	}
	return avr.Addr(v), nil
}

// run replays the script against core. It stops early when ctx is done
// and fails on the first unmet expectation.
func (s script) run(ctx context.Context, core *avr.Core, l *slog.Logger) error {
	for _, st := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.op {
		case opWrite:
			core.Write(st.addr, st.value)
		case opRead:
			l.Info("script_read", "line", st.line, "reg", st.reg, "value", fmt.Sprintf("0x%02X", core.Read(st.addr)))
		case opExpect:
			if got := core.Read(st.addr); got != st.value {
				return fmt.Errorf("line %d: %s = 0x%02X, want 0x%02X", st.line, st.reg, got, st.value)
			}
		case opSleep:
			t := time.NewTimer(st.pause)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		case opReset:
			core.Reset()
		}
	}
	return nil
}
