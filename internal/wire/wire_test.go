/*
 * uqmid - Frame layer test cases.
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
	"bytes"
	"testing"

	"github.com/openwrt/uqmid/internal/qmi"
)

func TestEncodeDecodeQMUXRoundTripCTL(t *testing.T) {
	msg := &qmi.Message{
		Service:   qmi.ServiceCTL,
		ClientID:  0,
		IsCTL:     true,
		TID:       7,
		MessageID: 0x0020, // Get-Version-Info
		TLVs:      []qmi.TLV{{Type: 0x01, Value: []byte{0xde, 0xad}}},
	}

	buf, err := EncodeQMUX(msg)
	if err != nil {
		t.Fatalf("EncodeQMUX: %v", err)
	}

	got, n, err := DecodeQMUX(buf)
	if err != nil {
		t.Fatalf("DecodeQMUX: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if got.Service != msg.Service || got.TID != msg.TID || got.MessageID != msg.MessageID || !got.IsCTL {
		t.Errorf("round trip mismatch: %+v", got)
	}
	v, ok := got.TLVByType(0x01)
	if !ok || !bytes.Equal(v, []byte{0xde, 0xad}) {
		t.Errorf("TLV round trip mismatch: %v", v)
	}
}

func TestEncodeDecodeQMUXRoundTripService(t *testing.T) {
	msg := &qmi.Message{
		Service:   qmi.ServiceDMS,
		ClientID:  3,
		IsCTL:     false,
		TID:       0xfffe,
		MessageID: 0x0021, // Get-Model
		Response:  true,
	}
	msg.SetTLV(qmi.ResultTLVType, qmi.EncodeResult(qmi.Result{Result: 0, Error: 0}))

	buf, err := EncodeQMUX(msg)
	if err != nil {
		t.Fatalf("EncodeQMUX: %v", err)
	}
	got, n, err := DecodeQMUX(buf)
	if err != nil {
		t.Fatalf("DecodeQMUX: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if got.TID != msg.TID || got.ClientID != msg.ClientID || !got.Response || got.IsCTL {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDecodeQMUXIncompleteThenComplete(t *testing.T) {
	msg := &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: 1, MessageID: 0x22}
	buf, _ := EncodeQMUX(msg)

	if _, _, err := DecodeQMUX(buf[:3]); err != ErrIncomplete {
		t.Errorf("partial header: got %v, want ErrIncomplete", err)
	}
	if _, _, err := DecodeQMUX(buf[:len(buf)-1]); err != ErrIncomplete {
		t.Errorf("partial body: got %v, want ErrIncomplete", err)
	}
	if _, n, err := DecodeQMUX(buf); err != nil || n != len(buf) {
		t.Errorf("full frame: n=%d err=%v", n, err)
	}
}

func TestDecodeQMUXBadMarker(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, _, err := DecodeQMUX(buf); err == nil {
		t.Fatalf("expected malformed error for bad marker")
	}
}

func TestReaderDrainSplitAcrossFeeds(t *testing.T) {
	msg1 := &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: 1, MessageID: 0x22}
	msg2 := &qmi.Message{Service: qmi.ServiceDMS, IsCTL: false, TID: 2, MessageID: 0x21, ClientID: 1}
	b1, _ := EncodeQMUX(msg1)
	b2, _ := EncodeQMUX(msg2)
	both := append(append([]byte{}, b1...), b2...)

	var r Reader
	r.Feed(both[:len(b1)+2]) // first frame plus a few bytes of the second
	msgs, err := r.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 complete message, got %d", len(msgs))
	}

	r.Feed(both[len(b1)+2:])
	msgs, err = r.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != msg2.MessageID {
		t.Fatalf("expected second message after remaining bytes fed, got %+v", msgs)
	}
}

func TestMBIMWrapUnwrapRoundTrip(t *testing.T) {
	qmiFrame := []byte{0x01, 0x27, 0x00, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00}
	wrapped := WrapCommand(7, qmiFrame)

	// Simulate the same bytes coming back as a Command-Done by patching
	// the message type field, as a real qmi-proxy would reply.
	doneBytes := append([]byte{}, wrapped...)
	doneBytes[0] = 0x03
	doneBytes[3] = 0x80

	payload, consumed, isProxy, err := UnwrapCommandDone(doneBytes)
	if err != nil {
		t.Fatalf("UnwrapCommandDone: %v", err)
	}
	if isProxy {
		t.Errorf("expected a QMI envelope, not a proxy handshake")
	}
	if consumed != len(doneBytes) {
		t.Errorf("consumed %d, want %d", consumed, len(doneBytes))
	}
	if !bytes.Equal(payload, qmiFrame) {
		t.Errorf("unwrapped payload mismatch: %v", payload)
	}
}

func TestMBIMUnwrapSkipsForeignUUID(t *testing.T) {
	wrapped := wrapCommand(1, [16]byte{0xff}, 99, []byte{0x01})
	wrapped[0] = 0x03
	wrapped[3] = 0x80

	_, consumed, isProxy, err := UnwrapCommandDone(wrapped)
	if err != ErrNotQMIEnvelope {
		t.Fatalf("expected ErrNotQMIEnvelope, got %v", err)
	}
	if isProxy {
		t.Errorf("unrelated UUID should not be reported as a proxy handshake")
	}
	if consumed != len(wrapped) {
		t.Errorf("consumed %d, want %d so the caller can skip past it", consumed, len(wrapped))
	}
}

func TestMBIMUnwrapIncomplete(t *testing.T) {
	wrapped := WrapCommand(1, []byte{0x01})
	if _, _, _, err := UnwrapCommandDone(wrapped[:8]); err != ErrIncomplete {
		t.Errorf("got %v, want ErrIncomplete", err)
	}
}

func TestMBIMProxyHandshakeRecognized(t *testing.T) {
	wrapped := WrapProxyHandshake(1, "/dev/cdc-wdm0", 10)
	wrapped[0] = 0x03
	wrapped[3] = 0x80

	_, _, isProxy, err := UnwrapCommandDone(wrapped)
	if err != ErrNotQMIEnvelope {
		t.Fatalf("expected ErrNotQMIEnvelope for proxy UUID, got %v", err)
	}
	if !isProxy {
		t.Errorf("proxy handshake command-done not recognized as such")
	}
}
