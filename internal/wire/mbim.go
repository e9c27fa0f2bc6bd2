/*
 * uqmid - MBIM tunnel envelope.
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

package wire

import (
	"encoding/binary"
	"errors"
)

// MBIM message types this daemon needs to speak (a tiny subset of the
// full MBIM control-plane vocabulary — only what's needed to tunnel
// QMI messages).
const (
	mbimOpenMsg        uint32 = 0x00000001
	mbimOpenDoneMsg    uint32 = 0x80000001
	mbimCommandMsg     uint32 = 0x00000003
	mbimCommandDoneMsg uint32 = 0x80000003
)

const mbimCommandTypeSet uint32 = 1

// QMIUUID is the fixed MBIM service UUID used to tunnel QMI messages
// (MBIM_UUID_QMI, owned by Qualcomm's vendor extension to MBIM).
var QMIUUID = [16]byte{
	0xd1, 0xa3, 0x0b, 0xc2, 0xf9, 0x7a, 0x6e, 0x43,
	0xbf, 0x65, 0xc7, 0xe2, 0x4f, 0xb0, 0xf0, 0xd3,
}

// ProxyUUID addresses qmi-proxy's own control channel, used only for
// the proxy handshake before any QMI traffic flows.
var ProxyUUID = [16]byte{
	0x83, 0x8c, 0xf7, 0xfb, 0x8d, 0x0d, 0x4d, 0x7f,
	0x87, 0x1e, 0xd7, 0x1d, 0xbe, 0xfb, 0xb3, 0x9b,
}

const proxyHandshakeCommandID uint32 = 1
const qmiCommandID uint32 = 1

var (
	// ErrNotQMIEnvelope is returned by UnwrapCommandDone when the frame
	// belongs to a CID or UUID this daemon doesn't care about; the
	// caller skips it and keeps reading rather than treating it as an
	// error.
	ErrNotQMIEnvelope = errors.New("wire: mbim frame is not a QMI command-done")
)

// WrapCommand places a raw QMI frame inside an MBIM Command message
// addressed to the QMI tunnel UUID, as a single unfragmented message.
func WrapCommand(transactionID uint32, qmiFrame []byte) []byte {
	return wrapCommand(transactionID, QMIUUID, qmiCommandID, qmiFrame)
}

// WrapProxyHandshake builds the MBIM Command that asks qmi-proxy to
// open the device at path, handing off an already-open fd's offset/
// length via dev_off/dev_len (both 0 for a fresh open) and a timeout
// in seconds.
func WrapProxyHandshake(transactionID uint32, path string, timeoutSeconds uint32) []byte {
	buf := make([]byte, 12+2*(len(path)+1))
	binary.LittleEndian.PutUint32(buf[0:4], 0)               // dev_off
	binary.LittleEndian.PutUint32(buf[4:8], 0)                // dev_len
	binary.LittleEndian.PutUint32(buf[8:12], timeoutSeconds)
	// UTF-16LE path, NUL-terminated, matching the proxy's wire quirk of
	// duplicating each byte with a zero between (ASCII-as-UTF16LE).
	off := 12
	for _, c := range path {
		buf[off] = byte(c)
		buf[off+1] = 0
		off += 2
	}
	return wrapCommand(transactionID, ProxyUUID, proxyHandshakeCommandID, buf)
}

func wrapCommand(transactionID uint32, uuid [16]byte, commandID uint32, payload []byte) []byte {
	// MBIM header(12) + fragment header(8) + uuid(16) + command_id(4) +
	// command_type(4) + buffer_length(4) + payload
	total := 12 + 8 + 16 + 4 + 4 + 4 + len(payload)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], mbimCommandMsg)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	binary.LittleEndian.PutUint32(buf[8:12], transactionID)

	binary.LittleEndian.PutUint32(buf[12:16], 1) // total fragments
	binary.LittleEndian.PutUint32(buf[16:20], 0) // current fragment

	copy(buf[20:36], uuid[:])
	binary.LittleEndian.PutUint32(buf[36:40], commandID)
	binary.LittleEndian.PutUint32(buf[40:44], mbimCommandTypeSet)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(len(payload)))
	copy(buf[48:], payload)
	return buf
}

// UnwrapCommandDone parses one MBIM message from the head of buf. It
// returns the inner QMI payload when the frame is a Command-Done for
// the QMI tunnel UUID; ErrIncomplete if buf doesn't yet hold a whole
// MBIM message; ErrNotQMIEnvelope for a Command-Done belonging to
// another CID/UUID (the caller should skip `consumed` bytes and keep
// reading, not treat this as an error) — including a proxy-handshake
// Command-Done, which the caller recognizes by UUID before discarding.
func UnwrapCommandDone(buf []byte) (payload []byte, consumed int, isProxyHandshake bool, err error) {
	if len(buf) < 12 {
		return nil, 0, false, ErrIncomplete
	}
	msgType := binary.LittleEndian.Uint32(buf[0:4])
	msgLen := int(binary.LittleEndian.Uint32(buf[4:8]))
	if msgLen < 12 {
		return nil, 0, false, &ErrMalformed{Reason: "mbim message length too small"}
	}
	if len(buf) < msgLen {
		return nil, 0, false, ErrIncomplete
	}
	consumed = msgLen

	if msgType != mbimCommandDoneMsg {
		return nil, consumed, false, ErrNotQMIEnvelope
	}
	if msgLen < 48 {
		return nil, consumed, false, &ErrMalformed{Reason: "mbim command-done too short"}
	}

	var uuid [16]byte
	copy(uuid[:], buf[20:36])
	bufferLen := int(binary.LittleEndian.Uint32(buf[44:48]))
	if 48+bufferLen > msgLen {
		return nil, consumed, false, &ErrMalformed{Reason: "mbim buffer_length exceeds message"}
	}
	inner := buf[48 : 48+bufferLen]

	if uuid == ProxyUUID {
		return nil, consumed, true, ErrNotQMIEnvelope
	}
	if uuid != QMIUUID {
		return nil, consumed, false, ErrNotQMIEnvelope
	}
	if binary.LittleEndian.Uint32(buf[36:40]) != qmiCommandID {
		return nil, consumed, false, ErrNotQMIEnvelope
	}
	out := make([]byte, len(inner))
	copy(out, inner)
	return out, consumed, false, nil
}
