package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/avrcan"
	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/mob"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const transmitScript = `
# mailbox 2, auto-increment
write CANPAGE 0x28
write CANIDT1 0x24
write CANIDT2 0x60
write CANMSG 1
write CANMSG 2
write CANMSG 3
write CANMSG 4
write CANCDMOB 0x44   # transmit, dlc 4
expect CANGSTA 0x10
read CANPAGE
`

func TestParseScript(t *testing.T) {
	assert := assert.New(t)
	s, err := parseScript(strings.NewReader(transmitScript+"sleep 1ms\nreset\nwrite 0xF0 7\n"), avrcan.ATmega16M1)
	require.NoError(t, err)
	require.Len(t, s, 13)
	assert.Equal(opWrite, s[0].op)
	assert.Equal(avrcan.ATmega16M1.CANPAGE, s[0].addr)
	assert.Equal(uint8(0x28), s[0].value)
	assert.Equal(3, s[0].line)
	assert.Equal(opExpect, s[8].op)
	assert.Equal(opRead, s[9].op)
	assert.Equal(opSleep, s[10].op)
	assert.Equal(time.Millisecond, s[10].pause)
	assert.Equal(opReset, s[11].op)
	assert.Equal(avr.Addr(0xF0), s[12].addr)
}

func TestParseScriptErrors(t *testing.T) {
	for _, src := range []string{
		"write CANPAGE",
		"write CANPAGE 0x100",
		"write NOPE 1",
		"read",
		"sleep soon",
		"sleep -1s",
		"reset now",
		"jump 0x20",
		"write 0x9000 1",
		"expect 0x500 0",
	} {
		_, err := parseScript(strings.NewReader(src), avrcan.ATmega16M1)
		assert.Error(t, err, src)
	}
}

func TestParseAddrBounds(t *testing.T) {
	a, err := parseAddr("0x4FF", avrcan.ATmega16M1)
	assert.NoError(t, err)
	assert.Equal(t, avr.Addr(0x4FF), a)

	_, err = parseAddr("0x9000", avrcan.ATmega16M1)
	assert.ErrorContains(t, err, "data space")
}

func TestScriptDrivesController(t *testing.T) {
	core := avr.NewCore(dataSpaceSize)
	ctl := avrcan.New(core, avrcan.ATmega16M1, avrcan.WithLogger(testLogger()))
	var raised []uint32
	core.IRQ(avrcan.IoctlGetIRQ, avrcan.IRQTransmit).Notify(func(v uint32) { raised = append(raised, v) })

	s, err := parseScript(strings.NewReader(transmitScript), avrcan.ATmega16M1)
	require.NoError(t, err)
	require.NoError(t, s.run(context.Background(), core, testLogger()))

	assert.Equal(t, []uint32{2}, raised)
	assert.Equal(t, can.Frame{CANID: 0x123, Len: 4, Data: [8]byte{1, 2, 3, 4}}, ctl.SendLookup(2))
	assert.Equal(t, mob.TransmitEnabled, ctl.Mailbox(2).Mode)
}

func TestScriptExpectFails(t *testing.T) {
	core := avr.NewCore(dataSpaceSize)
	avrcan.New(core, avrcan.ATmega16M1, avrcan.WithLogger(testLogger()))
	s, err := parseScript(strings.NewReader("expect CANGSTA 0x10\n"), avrcan.ATmega16M1)
	require.NoError(t, err)
	err = s.run(context.Background(), core, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestScriptStopsOnCancel(t *testing.T) {
	core := avr.NewCore(dataSpaceSize)
	s, err := parseScript(strings.NewReader("sleep 1h\n"), avrcan.ATmega16M1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.run(ctx, core, testLogger()), context.Canceled)
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.txt")
	require.NoError(t, os.WriteFile(path, []byte("reset\n"), 0o600))
	s, err := loadScript(path, avrcan.ATmega16M1)
	require.NoError(t, err)
	assert.Len(t, s, 1)
	_, err = loadScript(filepath.Join(t.TempDir(), "missing.txt"), avrcan.ATmega16M1)
	assert.Error(t, err)
}
