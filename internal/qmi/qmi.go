/*
 * uqmid - QMI message representation.
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

// Package qmi implements the in-memory representation of a QMI message:
// its control/service header, its TLV payload, and the table of
// protocol result codes a "standard result" TLV may carry. It knows
// nothing about the bytes on the wire or the device that produced
// them — internal/wire owns framing, internal/device owns the
// transaction bookkeeping that builds and consumes these messages.
package qmi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ServiceID identifies a QMI service family.
type ServiceID byte

const (
	ServiceCTL ServiceID = 0x00
	ServiceWDS ServiceID = 0x01
	ServiceDMS ServiceID = 0x02
	ServiceNAS ServiceID = 0x03
	ServiceWMS ServiceID = 0x05
	ServiceUIM ServiceID = 0x0b
	ServiceWDA ServiceID = 0x1a
)

func (s ServiceID) String() string {
	switch s {
	case ServiceCTL:
		return "CTL"
	case ServiceWDS:
		return "WDS"
	case ServiceDMS:
		return "DMS"
	case ServiceNAS:
		return "NAS"
	case ServiceWMS:
		return "WMS"
	case ServiceUIM:
		return "UIM"
	case ServiceWDA:
		return "WDA"
	default:
		return fmt.Sprintf("service(0x%02x)", byte(s))
	}
}

// Control header flag bits (CTL service only). The response/indication
// bit positions are a distinct enumeration from the service-level
// header below — this is called out by the protocol, not a mistake.
const (
	CtlFlagResponse   byte = 0x01
	CtlFlagIndication byte = 0x02
)

// Service-level header flag bits (every non-CTL service).
const (
	SvcFlagResponse   byte = 0x02
	SvcFlagIndication byte = 0x04
)

// ResultTLVType is the standard "result" TLV present on every response.
const ResultTLVType byte = 0x02

// TLV is one type-length-value record from a message's payload.
type TLV struct {
	Type  byte
	Value []byte
}

// Message is the in-memory decoded form of one QMI request, response,
// or indication, independent of raw vs MBIM-tunnelled transport.
type Message struct {
	Service   ServiceID
	ClientID  byte
	IsCTL     bool // selects 8-bit (CTL) vs 16-bit (service) tid width
	TID       uint16
	MessageID uint16
	Response  bool
	Indication bool
	TLVs      []TLV
}

// TLVByType returns the first TLV of the given type, if present.
func (m *Message) TLVByType(t byte) ([]byte, bool) {
	for _, tlv := range m.TLVs {
		if tlv.Type == t {
			return tlv.Value, true
		}
	}
	return nil, false
}

// SetTLV appends or replaces the TLV of the given type.
func (m *Message) SetTLV(t byte, v []byte) {
	for i, tlv := range m.TLVs {
		if tlv.Type == t {
			m.TLVs[i].Value = v
			return
		}
	}
	m.TLVs = append(m.TLVs, TLV{Type: t, Value: v})
}

// Result is the decoded standard result TLV: two 16-bit LE words.
type Result struct {
	Result uint16 // 0 = success, 1 = error field is meaningful
	Error  uint16
}

// Success reports whether the result TLV indicates success.
func (r Result) Success() bool {
	return r.Result == 0
}

var errShortResultTLV = errors.New("qmi: result TLV shorter than 4 bytes")

// DecodeResult extracts TLV 0x02 from m, the standard result carried on
// every response message.
func DecodeResult(m *Message) (Result, bool, error) {
	v, ok := m.TLVByType(ResultTLVType)
	if !ok {
		return Result{}, false, nil
	}
	if len(v) < 4 {
		return Result{}, true, errShortResultTLV
	}
	return Result{
		Result: binary.LittleEndian.Uint16(v[0:2]),
		Error:  binary.LittleEndian.Uint16(v[2:4]),
	}, true, nil
}

// EncodeResult builds the bytes of a standard result TLV value.
func EncodeResult(r Result) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], r.Result)
	binary.LittleEndian.PutUint16(b[2:4], r.Error)
	return b
}

// ErrorCode is a QMI protocol error, carried in the result TLV's error
// word when Result.Result != 0.
type ErrorCode uint16

// Protocol error codes. Not exhaustive — only the codes this daemon's
// FSMs branch on by name are given symbols; everything else falls back
// to the numeric %#x form in ErrorCode.String().
const (
	ErrNone                 ErrorCode = 0x0000
	ErrMalformedMessage     ErrorCode = 0x0001
	ErrNoMemory             ErrorCode = 0x0002
	ErrInternal             ErrorCode = 0x0003
	ErrAborted              ErrorCode = 0x0004
	ErrClientIDsExhausted   ErrorCode = 0x0005
	ErrInvalidClientID      ErrorCode = 0x0007
	ErrInvalidHandle        ErrorCode = 0x0009
	ErrInvalidProfile       ErrorCode = 0x000a
	ErrInvalidPinID         ErrorCode = 0x000b
	ErrIncorrectPin         ErrorCode = 0x000c
	ErrNoNetworkFound       ErrorCode = 0x000d
	ErrCallFailed           ErrorCode = 0x000e
	ErrOutOfCall            ErrorCode = 0x000f
	ErrNotProvisioned       ErrorCode = 0x0010
	ErrMissingArgument      ErrorCode = 0x0011
	ErrArgumentTooLong      ErrorCode = 0x0013
	ErrDeviceInUse          ErrorCode = 0x0017
	ErrOpNetworkUnsupported ErrorCode = 0x0018
	ErrOpDeviceUnsupported  ErrorCode = 0x0019
	ErrNoEffect             ErrorCode = 0x001a
	ErrInvalidPDPType       ErrorCode = 0x001c
	ErrPinBlocked           ErrorCode = 0x0023
	ErrPinAlwaysBlocked     ErrorCode = 0x0024
	ErrUIMUninitialized     ErrorCode = 0x0025
	ErrDeviceNotReady       ErrorCode = 0x002a
	ErrNotSupported         ErrorCode = 0x0045
	ErrInvalidArgument      ErrorCode = 0x0046
)

var errorNames = map[ErrorCode]string{
	ErrNone:                 "NONE",
	ErrMalformedMessage:     "MALFORMED_MESSAGE",
	ErrNoMemory:             "NO_MEMORY",
	ErrInternal:             "INTERNAL",
	ErrAborted:              "ABORTED",
	ErrClientIDsExhausted:   "CLIENT_IDS_EXHAUSTED",
	ErrInvalidClientID:      "INVALID_CLIENT_ID",
	ErrInvalidHandle:        "INVALID_HANDLE",
	ErrInvalidProfile:       "INVALID_PROFILE",
	ErrInvalidPinID:         "INVALID_PIN_ID",
	ErrIncorrectPin:         "INCORRECT_PIN",
	ErrNoNetworkFound:       "NO_NETWORK_FOUND",
	ErrCallFailed:           "CALL_FAILED",
	ErrOutOfCall:            "OUT_OF_CALL",
	ErrNotProvisioned:       "NOT_PROVISIONED",
	ErrMissingArgument:      "MISSING_ARGUMENT",
	ErrArgumentTooLong:      "ARGUMENT_TOO_LONG",
	ErrDeviceInUse:          "DEVICE_IN_USE",
	ErrOpNetworkUnsupported: "OP_NETWORK_UNSUPPORTED",
	ErrOpDeviceUnsupported:  "OP_DEVICE_UNSUPPORTED",
	ErrNoEffect:             "NO_EFFECT",
	ErrInvalidPDPType:       "INVALID_PDP_TYPE",
	ErrPinBlocked:           "PIN_BLOCKED",
	ErrPinAlwaysBlocked:     "PIN_ALWAYS_BLOCKED",
	ErrUIMUninitialized:     "UIM_UNINITIALIZED",
	ErrDeviceNotReady:       "DEVICE_NOT_READY",
	ErrNotSupported:         "NOT_SUPPORTED",
	ErrInvalidArgument:      "INVALID_ARGUMENT",
}

func (e ErrorCode) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ERROR(0x%04x)", uint16(e))
}
