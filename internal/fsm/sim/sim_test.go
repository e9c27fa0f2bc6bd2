/*
 * uqmid - SIM state machine test cases.
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

package sim

import (
	"testing"

	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/device"
	"github.com/openwrt/uqmid/internal/qmi"
	"github.com/openwrt/uqmid/internal/timer"
	"github.com/openwrt/uqmid/internal/wire"
)

// fakeConn is a minimal in-memory stand-in for the character device, the
// same shape internal/device's own tests use.
type fakeConn struct {
	written [][]byte
}

func (f *fakeConn) Read(p []byte) (int, error)  { return 0, nil }
func (f *fakeConn) Write(p []byte) (int, error) { f.written = append(f.written, append([]byte{}, p...)); return len(p), nil }
func (f *fakeConn) Close() error                { return nil }

// fakeParent records the terminal callbacks the Modem FSM would receive.
type fakeParent struct {
	readyICCID, readyIMSI string
	readyCalled           bool
	termState             SIMState
	termReason            string
	termCalled            bool
}

func (p *fakeParent) OnSIMReady(iccid, imsi string) {
	p.readyCalled = true
	p.readyICCID = iccid
	p.readyIMSI = imsi
}

func (p *fakeParent) OnSIMTerminated(state SIMState, reason string) {
	p.termCalled = true
	p.termState = state
	p.termReason = reason
}

// harness wires a real *device.Device (exported API only) to a fakeConn so
// the SIM FSM's requests can be answered by hand-built responses, exactly as
// the daemon's own device package is exercised in its tests.
type harness struct {
	dev *device.Device
	fc  *fakeConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := &fakeConn{}
	sched := &timer.Scheduler{}
	d := device.New("/dev/test", device.ModeQMI, fc, sched, nil)
	return &harness{dev: d, fc: fc}
}

// lastSent decodes the most recently written frame.
func (h *harness) lastSent(t *testing.T) *qmi.Message {
	t.Helper()
	if len(h.fc.written) == 0 {
		t.Fatalf("no frame written")
	}
	msg, _, err := wire.DecodeQMUX(h.fc.written[len(h.fc.written)-1])
	if err != nil {
		t.Fatalf("DecodeQMUX: %v", err)
	}
	return msg
}

// respondOK answers the most recently sent request with a successful
// response carrying the given TLV type/value, then feeds it back in.
func (h *harness) respondOK(t *testing.T, tlvType byte, tlvValue []byte) {
	t.Helper()
	req := h.lastSent(t)
	resp := &qmi.Message{Service: req.Service, ClientID: req.ClientID, Response: true, TID: req.TID, MessageID: req.MessageID}
	resp.SetTLV(qmi.ResultTLVType, qmi.EncodeResult(qmi.Result{Result: 0, Error: 0}))
	if tlvValue != nil {
		resp.SetTLV(tlvType, tlvValue)
	}
	buf, err := wire.EncodeQMUX(resp)
	if err != nil {
		t.Fatalf("EncodeQMUX: %v", err)
	}
	h.dev.Feed(buf)
}

func (h *harness) respondErr(t *testing.T, errCode qmi.ErrorCode) {
	t.Helper()
	req := h.lastSent(t)
	resp := &qmi.Message{Service: req.Service, ClientID: req.ClientID, Response: true, TID: req.TID, MessageID: req.MessageID}
	resp.SetTLV(qmi.ResultTLVType, qmi.EncodeResult(qmi.Result{Result: 1, Error: uint16(errCode)}))
	buf, err := wire.EncodeQMUX(resp)
	if err != nil {
		t.Fatalf("EncodeQMUX: %v", err)
	}
	h.dev.Feed(buf)
}

// drainAllocation answers a CTL Get-Client-ID frame if the service's very
// first request triggered one, so the real request underneath shows up next.
func (h *harness) drainAllocation(t *testing.T, cid byte) {
	t.Helper()
	frame := h.lastSent(t)
	if !frame.IsCTL || frame.MessageID != codec.MsgCTLGetClientID {
		return
	}
	resp := &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, Response: true, TID: frame.TID, MessageID: codec.MsgCTLGetClientID}
	resp.SetTLV(qmi.ResultTLVType, qmi.EncodeResult(qmi.Result{Result: 0, Error: 0}))
	resp.SetTLV(0x01, []byte{byte(frame.Service), cid})
	buf, _ := wire.EncodeQMUX(resp)
	h.dev.Feed(buf)
}

func imsiEFBytes() []byte {
	// 08 29 82 60 82 00 00 20 80 -> IMSI 228062800000208.
	return []byte{0x08, 0x29, 0x82, 0x60, 0x82, 0x00, 0x00, 0x20, 0x80}
}

func slotStatusTLV(cardState codec.CardState, slotState codec.SlotState, iccidBytes []byte) []byte {
	out := []byte{1, byte(cardState), byte(slotState), byte(len(iccidBytes))}
	return append(out, iccidBytes...)
}

func cardStatusTLV(app codec.Application) []byte {
	return []byte{
		1, byte(codec.CardStatePresent), 1,
		byte(app.State), byte(app.Pin1State), byte(app.Pin1Retries), byte(app.Puk1Retries),
		byte(app.UPinState), byte(app.UPinRetries), byte(app.UPukRetries),
	}
}

func TestColdAttachPinLessReachesReady(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	// ICCID 89860018... BCD-encoded as 98 68 00 81 (nibble-swapped, per
	// the codec package's own round-trip tests).
	h.respondOK(t, 1, slotStatusTLV(codec.CardStatePresent, codec.SlotStateActive, []byte{0x98, 0x68, 0x00, 0x81}))
	if f.State() != StateGetInfo {
		t.Fatalf("state = %v, want GET_INFO", f.State())
	}

	h.respondOK(t, 1, cardStatusTLV(codec.Application{State: 1, Pin1State: codec.PinStateDisabled}))
	// Get-Info chains straight into reading EF.IMSI.
	h.respondOK(t, 1, append([]byte{byte(len(imsiEFBytes())), 0}, imsiEFBytes()...))

	if f.State() != StateReady {
		t.Fatalf("state = %v, want READY", f.State())
	}
	if !parent.readyCalled {
		t.Fatalf("parent.OnSIMReady never called")
	}
	if parent.readyIMSI != "228062800000208" {
		t.Fatalf("imsi = %q, want 228062800000208", parent.readyIMSI)
	}
	if parent.readyICCID != "89860018" {
		t.Fatalf("iccid = %q, want 89860018", parent.readyICCID)
	}
}

func TestPinRequiredWithSufficientRetriesUnlocks(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{PIN: "1234"}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	h.respondOK(t, 1, slotStatusTLV(codec.CardStatePresent, codec.SlotStateActive, []byte{0x98, 0x68, 0x00, 0x81}))

	h.respondOK(t, 1, cardStatusTLV(codec.Application{State: 1, Pin1State: codec.PinStateEnabledNotVerified, Pin1Retries: 3, Puk1Retries: 10}))
	if f.State() != StateCHVPin {
		t.Fatalf("state = %v, want CHV_PIN", f.State())
	}

	verifyFrame := h.lastSent(t)
	if verifyFrame.MessageID != codec.MsgUIMVerifyPIN {
		t.Fatalf("expected Verify-Pin request, got message id %#x", verifyFrame.MessageID)
	}
	h.respondOK(t, 0, nil)
	// CHV_PIN success returns to GET_INFO, which re-reads card status.
	if f.State() != StateGetInfo {
		t.Fatalf("state = %v, want GET_INFO after successful unlock", f.State())
	}

	h.respondOK(t, 1, cardStatusTLV(codec.Application{State: 1, Pin1State: codec.PinStateDisabled}))
	h.respondOK(t, 1, append([]byte{byte(len(imsiEFBytes())), 0}, imsiEFBytes()...))

	if f.State() != StateReady || !parent.readyCalled {
		t.Fatalf("expected READY after unlock, state=%v readyCalled=%v", f.State(), parent.readyCalled)
	}
}

func TestPinRequiredWithInsufficientRetriesFailsWithoutSending(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{PIN: "1234"}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	h.respondOK(t, 1, slotStatusTLV(codec.CardStatePresent, codec.SlotStateActive, []byte{0x98, 0x68, 0x00, 0x81}))

	framesBefore := len(h.fc.written)
	h.respondOK(t, 1, cardStatusTLV(codec.Application{State: 1, Pin1State: codec.PinStateEnabledNotVerified, Pin1Retries: 1, Puk1Retries: 10}))

	if f.State() != StateFailPinRequired {
		t.Fatalf("state = %v, want FAIL_PIN_REQUIRED", f.State())
	}
	if len(h.fc.written) != framesBefore {
		t.Fatalf("Verify-Pin must not be sent with only one retry left, wrote %d new frames", len(h.fc.written)-framesBefore)
	}
	if !parent.termCalled || parent.termState != SIMPinRequired {
		t.Fatalf("expected OnSIMTerminated(SIMPinRequired, ...), got called=%v state=%v", parent.termCalled, parent.termState)
	}
}

func TestNoSIMPresentFailsWithoutCardStatus(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	h.respondOK(t, 1, slotStatusTLV(codec.CardStateAbsent, codec.SlotStateInactive, []byte{0x98, 0x68, 0x00, 0x81}))

	if f.State() != StateFailNoSIMPresent {
		t.Fatalf("state = %v, want FAIL_NO_SIM_PRESENT", f.State())
	}
	if !parent.termCalled || parent.termState != SIMUnknown {
		t.Fatalf("expected OnSIMTerminated called with SIMUnknown, got called=%v state=%v", parent.termCalled, parent.termState)
	}
}

func TestCardRemovedIndicationTransitionsToRemoved(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	h.respondOK(t, 1, slotStatusTLV(codec.CardStatePresent, codec.SlotStateActive, []byte{0x98, 0x68, 0x00, 0x81}))
	h.respondOK(t, 1, cardStatusTLV(codec.Application{State: 1, Pin1State: codec.PinStateDisabled}))
	h.respondOK(t, 1, append([]byte{byte(len(imsiEFBytes())), 0}, imsiEFBytes()...))

	if f.State() != StateReady {
		t.Fatalf("state = %v, want READY", f.State())
	}

	registerFrame := h.lastSent(t)
	if registerFrame.MessageID != codec.MsgUIMRegisterEvents {
		t.Fatalf("expected Register-Events request once READY, got message id %#x", registerFrame.MessageID)
	}
	h.respondOK(t, 0, nil)

	ind := &qmi.Message{Service: qmi.ServiceUIM, ClientID: registerFrame.ClientID, Indication: true, MessageID: codec.MsgUIMStatusChangeInd}
	ind.SetTLV(1, slotStatusTLV(codec.CardStateAbsent, codec.SlotStateInactive, nil))
	buf, err := wire.EncodeQMUX(ind)
	if err != nil {
		t.Fatalf("EncodeQMUX: %v", err)
	}
	h.dev.Feed(buf)

	if f.State() != StateRemoved {
		t.Fatalf("state = %v, want REMOVED", f.State())
	}
	if !parent.termCalled || parent.termReason != "REMOVED" {
		t.Fatalf("expected OnSIMTerminated(..., REMOVED), got called=%v reason=%q", parent.termCalled, parent.termReason)
	}
}

func TestUIMUnavailableFallsBackToDMSGetIMSI(t *testing.T) {
	h := newHarness(t)
	parent := &fakeParent{}
	f := New(h.dev, &timer.Scheduler{}, parent, Config{}, nil)
	f.Start()

	h.drainAllocation(t, 7)
	h.respondErr(t, qmi.ErrInternal)
	h.drainAllocation(t, 8)

	fallback := h.lastSent(t)
	if fallback.Service != qmi.ServiceDMS || fallback.MessageID != codec.MsgDMSGetIMSI {
		t.Fatalf("expected DMS Get-IMSI fallback, got service=%v msgid=%#x", fallback.Service, fallback.MessageID)
	}
	h.respondOK(t, 0x01, []byte("228062800000208\x00"))

	if f.State() != StateReady {
		t.Fatalf("state = %v, want READY via fallback", f.State())
	}
	if !parent.readyCalled || parent.readyIMSI != "228062800000208" {
		t.Fatalf("expected OnSIMReady with fallback imsi, got called=%v imsi=%q", parent.readyCalled, parent.readyIMSI)
	}
}
