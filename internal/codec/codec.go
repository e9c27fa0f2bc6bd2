/*
 * uqmid - QMI message codec.
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

// Package codec is the QMI message codec: one encode function and one
// parse function per QMI operation the FSMs drive, plus the message-id
// and TLV-type constants they share. A larger daemon would generate
// this package from a QMI message catalog; this one is hand-written to
// cover exactly the operations the Modem and SIM FSMs issue.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/openwrt/uqmid/internal/qmi"
)

// ProtocolError wraps a non-zero QMI result code so callers can branch
// on the specific error (NO_EFFECT, CALL_FAILED, ...) rather than
// string-matching.
type ProtocolError struct {
	Code qmi.ErrorCode
}

func (e *ProtocolError) Error() string {
	return "codec: protocol error: " + e.Code.String()
}

// checkResult decodes the standard result TLV and turns a non-success
// result into a *ProtocolError.
func checkResult(msg *qmi.Message) error {
	res, present, err := qmi.DecodeResult(msg)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("codec: response missing result TLV")
	}
	if !res.Success() {
		return &ProtocolError{Code: qmi.ErrorCode(res.Error)}
	}
	return nil
}

func tlvU8(t byte, v byte) qmi.TLV { return qmi.TLV{Type: t, Value: []byte{v}} }

func tlvU16(t byte, v uint16) qmi.TLV {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return qmi.TLV{Type: t, Value: b}
}

func tlvU32(t byte, v uint32) qmi.TLV {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return qmi.TLV{Type: t, Value: b}
}

func tlvString(t byte, s string) qmi.TLV {
	return qmi.TLV{Type: t, Value: []byte(s)}
}

func readU16(v []byte) (uint16, error) {
	if len(v) < 2 {
		return 0, fmt.Errorf("codec: TLV too short for u16")
	}
	return binary.LittleEndian.Uint16(v), nil
}

func readU32(v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, fmt.Errorf("codec: TLV too short for u32")
	}
	return binary.LittleEndian.Uint32(v), nil
}

// stringTLV trims the trailing NUL some services pad string TLVs with.
func stringTLV(v []byte) string {
	for i, b := range v {
		if b == 0 {
			return string(v[:i])
		}
	}
	return string(v)
}
