// Package serial attaches the bridge to a CAN bus through an SLCAN (LAWICEL)
// serial adapter.
package serial

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/metrics"
)

// ErrMalformed reports an SLCAN line that is not a frame.
var ErrMalformed = errors.New("slcan: malformed frame")

// maxLine bounds an unterminated line (T + 8 id + 1 dlc + 16 data).
const maxLine = 1 + 8 + 1 + 16

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the buffer grows
// large relative to unread bytes. It reports whether compaction happened.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode renders f as one SLCAN command line:
//
//	tiiil<data>\r        standard data frame
//	Tiiiiiiiil<data>\r   extended data frame
//	riiil\r / Tiiiiiiiil\r  remote frames
func (Codec) Encode(f can.Frame) []byte {
	payload := f.Payload()
	ext := f.CANID&can.CAN_EFF_FLAG != 0
	rtr := f.CANID&can.CAN_RTR_FLAG != 0
	out := make([]byte, 0, maxLine+1)
	switch {
	case ext && rtr:
		out = append(out, 'R')
	case ext:
		out = append(out, 'T')
	case rtr:
		out = append(out, 'r')
	default:
		out = append(out, 't')
	}
	if ext {
		out = append(out, fmt.Sprintf("%08X", f.CANID&can.CAN_EFF_MASK)...)
	} else {
		out = append(out, fmt.Sprintf("%03X", f.CANID&can.CAN_SFF_MASK)...)
	}
	out = append(out, '0'+uint8(len(payload)))
	if !rtr {
		out = append(out, bytes.ToUpper([]byte(hex.EncodeToString(payload)))...)
	}
	return append(out, '\r')
}

// Decode parses one line without its terminator.
func (Codec) Decode(line []byte) (can.Frame, error) {
	var f can.Frame
	if len(line) == 0 {
		return f, ErrMalformed
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.CANID |= can.CAN_RTR_FLAG
	case 'T':
		idLen = 8
		f.CANID |= can.CAN_EFF_FLAG
	case 'R':
		idLen = 8
		f.CANID |= can.CAN_EFF_FLAG | can.CAN_RTR_FLAG
	default:
		return f, fmt.Errorf("%w: command %q", ErrMalformed, line[0])
	}
	if len(line) < 1+idLen+1 {
		return f, fmt.Errorf("%w: short line %q", ErrMalformed, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	if idLen == 3 && id > can.CAN_SFF_MASK || id > can.CAN_EFF_MASK {
		return f, fmt.Errorf("%w: id 0x%X out of range", ErrMalformed, id)
	}
	f.CANID |= uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, fmt.Errorf("%w: dlc %q", ErrMalformed, dlc)
	}
	f.Len = dlc - '0'
	payload := line[2+idLen:]
	if f.CANID&can.CAN_RTR_FLAG != 0 {
		if len(payload) != 0 {
			return f, fmt.Errorf("%w: remote frame with data", ErrMalformed)
		}
		return f, nil
	}
	if len(payload) != int(f.Len)*2 {
		return f, fmt.Errorf("%w: %d data digits for dlc %d", ErrMalformed, len(payload), f.Len)
	}
	if _, err := hex.Decode(f.Data[:f.Len], payload); err != nil {
		return f, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return f, nil
}

// DecodeStream consumes complete lines from in and emits frames via out.
// Adapter acknowledgements (empty lines, z/Z) are skipped, and bell bytes
// and malformed lines are counted and dropped. A trailing partial line stays
// in the buffer for the next call.
func (c Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}
		if data[0] == '\a' {
			metrics.IncError(metrics.ErrMalformed)
			in.Next(1)
			continue
		}
		end := bytes.IndexByte(data, '\r')
		if end < 0 {
			if len(data) > maxLine {
				// No terminator within a frame length; drop the junk.
				metrics.IncError(metrics.ErrMalformed)
				in.Reset()
			}
			return nil
		}
		line := bytes.TrimLeft(data[:end], "\n")
		switch {
		case len(line) == 0:
		case len(line) == 1 && (line[0] == 'z' || line[0] == 'Z'):
		default:
			if f, err := c.Decode(line); err == nil {
				out(f)
			} else {
				metrics.IncError(metrics.ErrMalformed)
			}
		}
		in.Next(end + 1)
	}
}

var bitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCommand returns the Sn setup line for a nominal bus bitrate.
func BitrateCommand(bps int) ([]byte, error) {
	code, ok := bitrates[bps]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bps)
	}
	return []byte{'S', code, '\r'}, nil
}
