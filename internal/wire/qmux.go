/*
 * uqmid - QMUX frame codec.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package wire turns a continuous byte stream from a QMI character
// device into whole qmi.Message values and back, in either raw QMUX
// framing or tunnelled inside MBIM Command/Command-Done envelopes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openwrt/uqmid/internal/qmi"
)

const marker byte = 0x01

// ErrIncomplete is returned by DecodeQMUX (and UnwrapCommandDone) when buf doesn't yet hold a
// complete frame; the caller should wait for more bytes and retry.
var ErrIncomplete = errors.New("wire: incomplete frame")

// ErrMalformed is returned for a header that can never become valid
// (bad marker, a declared length too small to hold a header, or header
// and TLV lengths that disagree with the frame) — the Frame Layer's caller transitions
// the Device to ERROR on this.
type ErrMalformed struct{ Reason string }

func (e *ErrMalformed) Error() string { return "wire: malformed frame: " + e.Reason }

// EncodeQMUX renders msg as a raw QMUX frame.
func EncodeQMUX(msg *qmi.Message) ([]byte, error) {
	var hdr []byte
	flags := svcFlags(msg)

	if msg.IsCTL {
		hdr = make([]byte, 6)
		hdr[0] = flags
		hdr[1] = byte(msg.TID)
		binary.LittleEndian.PutUint16(hdr[2:4], msg.MessageID)
	} else {
		hdr = make([]byte, 7)
		hdr[0] = flags
		binary.LittleEndian.PutUint16(hdr[1:3], msg.TID)
		binary.LittleEndian.PutUint16(hdr[3:5], msg.MessageID)
	}

	tlvBytes, err := encodeTLVs(msg.TLVs)
	if err != nil {
		return nil, err
	}
	if msg.IsCTL {
		binary.LittleEndian.PutUint16(hdr[4:6], uint16(len(tlvBytes)))
	} else {
		binary.LittleEndian.PutUint16(hdr[5:7], uint16(len(tlvBytes)))
	}

	// marker(1) + len(2) + flags(1) + service(1) + client(1) + hdr + tlvs
	total := 1 + 2 + 1 + 1 + 1 + len(hdr) + len(tlvBytes)
	buf := make([]byte, total)
	buf[0] = marker
	binary.LittleEndian.PutUint16(buf[1:3], uint16(total-1))
	buf[3] = flags
	buf[4] = byte(msg.Service)
	buf[5] = msg.ClientID
	copy(buf[6:6+len(hdr)], hdr)
	copy(buf[6+len(hdr):], tlvBytes)
	return buf, nil
}

func svcFlags(msg *qmi.Message) byte {
	var f byte
	if msg.IsCTL {
		if msg.Response {
			f |= qmi.CtlFlagResponse
		}
		if msg.Indication {
			f |= qmi.CtlFlagIndication
		}
	} else {
		if msg.Response {
			f |= qmi.SvcFlagResponse
		}
		if msg.Indication {
			f |= qmi.SvcFlagIndication
		}
	}
	return f
}

func encodeTLVs(tlvs []qmi.TLV) ([]byte, error) {
	var out []byte
	for _, t := range tlvs {
		if len(t.Value) > 0xffff {
			return nil, fmt.Errorf("wire: TLV 0x%02x too large (%d bytes)", t.Type, len(t.Value))
		}
		rec := make([]byte, 3+len(t.Value))
		rec[0] = t.Type
		binary.LittleEndian.PutUint16(rec[1:3], uint16(len(t.Value)))
		copy(rec[3:], t.Value)
		out = append(out, rec...)
	}
	return out, nil
}

func decodeTLVs(buf []byte) ([]qmi.TLV, error) {
	var tlvs []qmi.TLV
	for len(buf) > 0 {
		if len(buf) < 3 {
			return nil, &ErrMalformed{Reason: "truncated TLV header"}
		}
		ty := buf[0]
		ln := binary.LittleEndian.Uint16(buf[1:3])
		buf = buf[3:]
		if int(ln) > len(buf) {
			return nil, &ErrMalformed{Reason: "TLV length exceeds buffer"}
		}
		val := make([]byte, ln)
		copy(val, buf[:ln])
		tlvs = append(tlvs, qmi.TLV{Type: ty, Value: val})
		buf = buf[ln:]
	}
	return tlvs, nil
}

// DecodeQMUX parses one raw QMUX frame from the head of buf. It returns
// the decoded message and the number of bytes consumed, or
// ErrIncomplete if buf does not yet hold a whole frame.
func DecodeQMUX(buf []byte) (*qmi.Message, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrIncomplete
	}
	if buf[0] != marker {
		return nil, 0, &ErrMalformed{Reason: fmt.Sprintf("bad marker 0x%02x", buf[0])}
	}
	if len(buf) < 3 {
		return nil, 0, ErrIncomplete
	}
	frameLen := int(binary.LittleEndian.Uint16(buf[1:3])) + 1
	if frameLen < 6 {
		return nil, 0, &ErrMalformed{Reason: "declared length too small for a header"}
	}
	if len(buf) < frameLen {
		return nil, 0, ErrIncomplete
	}

	flags := buf[3]
	service := qmi.ServiceID(buf[4])
	client := buf[5]
	isCTL := service == qmi.ServiceCTL

	rest := buf[6:frameLen]
	var tid uint16
	var msgID uint16
	var tlvLen uint16
	if isCTL {
		if len(rest) < 6 {
			return nil, 0, &ErrMalformed{Reason: "truncated CTL header"}
		}
		tid = uint16(rest[1])
		msgID = binary.LittleEndian.Uint16(rest[2:4])
		tlvLen = binary.LittleEndian.Uint16(rest[4:6])
		rest = rest[6:]
	} else {
		if len(rest) < 7 {
			return nil, 0, &ErrMalformed{Reason: "truncated service header"}
		}
		tid = binary.LittleEndian.Uint16(rest[1:3])
		msgID = binary.LittleEndian.Uint16(rest[3:5])
		tlvLen = binary.LittleEndian.Uint16(rest[5:7])
		rest = rest[7:]
	}
	if int(tlvLen) != len(rest) {
		return nil, 0, &ErrMalformed{Reason: "TLV length does not match frame"}
	}
	tlvs, err := decodeTLVs(rest)
	if err != nil {
		return nil, 0, err
	}

	msg := &qmi.Message{
		Service:   service,
		ClientID:  client,
		IsCTL:     isCTL,
		TID:       tid,
		MessageID: msgID,
		TLVs:      tlvs,
	}
	if isCTL {
		msg.Response = flags&qmi.CtlFlagResponse != 0
		msg.Indication = flags&qmi.CtlFlagIndication != 0
	} else {
		msg.Response = flags&qmi.SvcFlagResponse != 0
		msg.Indication = flags&qmi.SvcFlagIndication != 0
	}
	return msg, frameLen, nil
}

// Reader reassembles whole QMUX-framed messages out of a byte stream
// fed to it in arbitrary chunks, retaining any partial suffix between
// calls. In MBIM tunnel mode the Device does not use a Reader: it
// unwraps each Command-Done with UnwrapCommandDone and decodes the
// payload with DecodeQMUX.
type Reader struct {
	buf []byte
}

// Feed appends newly read bytes to the reader's internal buffer.
func (r *Reader) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Drain yields every complete message currently available, in arrival
// order, leaving any partial frame buffered for the next Feed.
func (r *Reader) Drain() ([]*qmi.Message, error) {
	var out []*qmi.Message
	for {
		msg, n, err := DecodeQMUX(r.buf)
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				return out, nil
			}
			return out, err
		}
		out = append(out, msg)
		r.buf = r.buf[n:]
	}
}
