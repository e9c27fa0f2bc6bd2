/*
 * uqmid - Message codec test cases.
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

package codec

import (
	"testing"

	"github.com/openwrt/uqmid/internal/qmi"
)

func successTLV() qmi.TLV {
	return qmi.TLV{Type: qmi.ResultTLVType, Value: qmi.EncodeResult(qmi.Result{Result: 0, Error: 0})}
}

func errorTLV(code qmi.ErrorCode) qmi.TLV {
	return qmi.TLV{Type: qmi.ResultTLVType, Value: qmi.EncodeResult(qmi.Result{Result: 1, Error: uint16(code)})}
}

func TestCTLGetVersionInfoRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvCTLVersionList, Value: []byte{
		2,
		byte(qmi.ServiceDMS), 4, 0, 0, 0,
		byte(qmi.ServiceNAS), 2, 0, 1, 0,
	}})

	versions, err := ParseCTLGetVersionInfoResponse(resp)
	if err != nil {
		t.Fatalf("ParseCTLGetVersionInfoResponse: %v", err)
	}
	if len(versions) != 2 || versions[0].Service != qmi.ServiceDMS || versions[0].Major != 4 {
		t.Errorf("unexpected versions: %+v", versions)
	}
	if versions[1].Minor != 1 {
		t.Errorf("unexpected NAS minor version: %+v", versions[1])
	}
}

func TestCTLGetClientIDRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvCTLAllocRespService, Value: []byte{byte(qmi.ServiceDMS), 7}})

	cid, err := ParseCTLGetClientIDResponse(resp)
	if err != nil {
		t.Fatalf("ParseCTLGetClientIDResponse: %v", err)
	}
	if cid != 7 {
		t.Errorf("client id = %d, want 7", cid)
	}
}

func TestIsCTLSyncIndication(t *testing.T) {
	ind := &qmi.Message{IsCTL: true, Indication: true, MessageID: MsgCTLSync}
	if !IsCTLSyncIndication(ind) {
		t.Errorf("expected sync indication to be recognized")
	}
	resp := &qmi.Message{IsCTL: true, Response: true, MessageID: MsgCTLSync}
	if IsCTLSyncIndication(resp) {
		t.Errorf("a response must not be mistaken for the sync indication")
	}
}

func TestDMSGetModelRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvDMSGenericString, Value: []byte("MDM9207")})

	model, err := ParseDMSGetModelResponse(resp)
	if err != nil {
		t.Fatalf("ParseDMSGetModelResponse: %v", err)
	}
	if model != "MDM9207" {
		t.Errorf("model = %q, want MDM9207", model)
	}
}

func TestDMSGetOperatingModeRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvDMSOperatingMode, Value: []byte{byte(ModeLowPower)}})

	mode, err := ParseDMSGetOperatingModeResponse(resp)
	if err != nil {
		t.Fatalf("ParseDMSGetOperatingModeResponse: %v", err)
	}
	if mode != ModeLowPower {
		t.Errorf("mode = %v, want LOW_POWER", mode)
	}
}

func TestUIMGetSlotStatusRoundTrip(t *testing.T) {
	// ICCID 89860018 encoded as nibble-swapped BCD, no filler needed
	// (even digit count): bytes 0x98 0x68 0x00 0x81.
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvUIMSlotList, Value: []byte{
		1,
		byte(CardStatePresent), byte(SlotStateActive), 4, 0x98, 0x68, 0x00, 0x81,
	}})

	slots, err := ParseUIMGetSlotStatusResponse(resp)
	if err != nil {
		t.Fatalf("ParseUIMGetSlotStatusResponse: %v", err)
	}
	if len(slots) != 1 || slots[0].ICCID != "89860018" {
		t.Errorf("unexpected slots: %+v", slots)
	}
}

func TestUIMGetCardStatusRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvUIMCardList, Value: []byte{
		1,
		byte(CardStatePresent), 1,
		1, byte(PinStateEnabledNotVerified), 3, 10, byte(PinStateUnknown), 0, 0,
	}})

	cards, err := ParseUIMGetCardStatusResponse(resp)
	if err != nil {
		t.Fatalf("ParseUIMGetCardStatusResponse: %v", err)
	}
	if len(cards) != 1 || len(cards[0].Applications) != 1 {
		t.Fatalf("unexpected cards: %+v", cards)
	}
	app := cards[0].Applications[0]
	if app.Pin1State != PinStateEnabledNotVerified || app.Pin1Retries != 3 {
		t.Errorf("unexpected application: %+v", app)
	}
}

func TestWDSStartNetworkProtocolError(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, errorTLV(qmi.ErrNoEffect))

	_, err := ParseWDSStartNetworkResponse(resp)
	perr, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected *ProtocolError, got %v (%T)", err, err)
	}
	if perr.Code != qmi.ErrNoEffect {
		t.Errorf("error code = %v, want NO_EFFECT", perr.Code)
	}
}

func TestWDSStartNetworkSuccess(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvWDSStartPacketHandle, Value: tlvU32Bytes(0x1234)})

	handle, err := ParseWDSStartNetworkResponse(resp)
	if err != nil {
		t.Fatalf("ParseWDSStartNetworkResponse: %v", err)
	}
	if handle != 0x1234 {
		t.Errorf("handle = %#x, want 0x1234", handle)
	}
}

func TestWDSGetProfileListRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvWDSProfileList, Value: []byte{
		1,
		1, 8, 'i', 'n', 't', 'e', 'r', 'n', 'e', 't', byte(PDPTypeIPv4),
	}})

	profiles, err := ParseWDSGetProfileListResponse(resp)
	if err != nil {
		t.Fatalf("ParseWDSGetProfileListResponse: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Name != "internet" || profiles[0].Index != 1 {
		t.Errorf("unexpected profiles: %+v", profiles)
	}
}

func TestNASGetServingSystemRoundTrip(t *testing.T) {
	resp := &qmi.Message{Response: true}
	resp.TLVs = append(resp.TLVs, successTLV())
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvNASServingSystem, Value: []byte{
		byte(RegStateRegistered), byte(RATLTE), 1, 1,
	}})
	resp.TLVs = append(resp.TLVs, qmi.TLV{Type: tlvNASPLMN, Value: []byte{
		0xe8, 0x03, // mcc=1000 (placeholder, just exercises the decode path)
		0x01, 0x00,
		2,
	}})

	ss, err := ParseNASGetServingSystemResponse(resp)
	if err != nil {
		t.Fatalf("ParseNASGetServingSystemResponse: %v", err)
	}
	if ss.State != RegStateRegistered || ss.RAT != RATLTE || !ss.CSAttached || !ss.PSAttached {
		t.Errorf("unexpected serving system: %+v", ss)
	}
	if ss.MNCLen != 2 {
		t.Errorf("MNCLen = %d, want 2", ss.MNCLen)
	}
}

func TestValidationRequestEncodesAndUsesTID(t *testing.T) {
	msg := EncodeDMSGetModel(3, 42)
	if msg.Service != qmi.ServiceDMS || msg.ClientID != 3 || msg.TID != 42 || msg.MessageID != MsgDMSGetModel {
		t.Errorf("unexpected request message: %+v", msg)
	}
}
