/*
 * uqmid - UIM service messages.
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
	"fmt"

	"github.com/openwrt/uqmid/internal/bcd"
	"github.com/openwrt/uqmid/internal/qmi"
)

const (
	MsgUIMGetSlotStatus   uint16 = 0x002f
	MsgUIMGetCardStatus   uint16 = 0x002c
	MsgUIMVerifyPIN       uint16 = 0x0028
	MsgUIMUnblockPIN      uint16 = 0x0029
	MsgUIMReadTransparent uint16 = 0x0020
	MsgUIMRegisterEvents  uint16 = 0x000f
	MsgUIMStatusChangeInd uint16 = 0x0032
)

// PinID selects which PIN a Verify-Pin/Unblock-Pin operation targets.
// UPIN is the universal PIN some cards use in place of PIN1.
type PinID byte

const (
	PinIDPIN1 PinID = 1
	PinIDPIN2 PinID = 2
	PinIDUPIN PinID = 3
)

// PinState mirrors the UIM PIN-state enumeration carried in a Card
// Status application record.
type PinState byte

const (
	PinStateUnknown PinState = iota
	PinStateNotInitialized
	PinStateEnabledNotVerified
	PinStateEnabledVerified
	PinStateDisabled
	PinStateBlocked
	PinStatePermanentlyBlocked
)

// CardState and SlotState mirror Get-Slot-Status's per-slot fields.
type CardState byte

const (
	CardStateAbsent CardState = iota
	CardStatePresent
	CardStateError
)

type SlotState byte

const (
	SlotStateInactive SlotState = iota
	SlotStateActive
)

// AppState distinguishes an application entry that hasn't been
// discovered yet from one ready for use; only UNKNOWN is special-cased
// by the SIM FSM when picking the first usable application.
type AppState byte

const AppStateUnknown AppState = 0

// SlotStatus is one entry of the Get-Slot-Status response.
type SlotStatus struct {
	CardState CardState
	SlotState SlotState
	ICCID     string
}

func EncodeUIMGetSlotStatus(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMGetSlotStatus}
}

const tlvUIMSlotList byte = 0x01 // {count u8, [card_state u8, slot_state u8, iccid_len u8, iccid bytes]...}

func ParseUIMGetSlotStatusResponse(msg *qmi.Message) ([]SlotStatus, error) {
	if err := checkResult(msg); err != nil {
		return nil, err
	}
	v, ok := msg.TLVByType(tlvUIMSlotList)
	if !ok || len(v) < 1 {
		return nil, fmt.Errorf("codec: slot status response missing slot list")
	}
	return parseSlotList(v)
}

func parseSlotList(v []byte) ([]SlotStatus, error) {
	n := int(v[0])
	rest := v[1:]
	out := make([]SlotStatus, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 3 {
			return nil, fmt.Errorf("codec: slot status TLV truncated at slot %d", i)
		}
		cardState := CardState(rest[0])
		slotState := SlotState(rest[1])
		iccidLen := int(rest[2])
		rest = rest[3:]
		if len(rest) < iccidLen {
			return nil, fmt.Errorf("codec: slot status ICCID truncated at slot %d", i)
		}
		// An absent card reports a zero-length ICCID; only decode what's
		// actually there.
		var iccid string
		if iccidLen > 0 {
			var err error
			iccid, err = bcd.DecodeICCID(rest[:iccidLen])
			if err != nil {
				return nil, fmt.Errorf("codec: slot %d: %w", i, err)
			}
		}
		rest = rest[iccidLen:]
		out = append(out, SlotStatus{CardState: cardState, SlotState: slotState, ICCID: iccid})
	}
	return out, nil
}

// EncodeUIMRegisterEvents requests physical-slot-status change
// indications, the mechanism the SIM FSM arms once READY so it learns
// of a card later pulled out from under it.
func EncodeUIMRegisterEvents(clientID byte, tid uint16) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMRegisterEvents}
	msg.SetTLV(tlvUIMEventMask, []byte{1})
	return msg
}

const tlvUIMEventMask byte = 0x10 // {physical_slot_status bool}

// ParseUIMStatusChangeIndication decodes a physical-slot-status-change
// indication's slot list, the same shape Get-Slot-Status's response
// carries.
func ParseUIMStatusChangeIndication(msg *qmi.Message) ([]SlotStatus, error) {
	v, ok := msg.TLVByType(tlvUIMSlotList)
	if !ok || len(v) < 1 {
		return nil, fmt.Errorf("codec: status change indication missing slot list")
	}
	return parseSlotList(v)
}

// Application is one application entry within a Card Status card
// record: its discovery state and the PIN1/UPIN verification state
// and retry counters the SIM FSM reads to decide CHV_PIN/CHV_PUK.
type Application struct {
	State       AppState
	Pin1State   PinState
	Pin1Retries int
	Puk1Retries int
	UPinState   PinState
	UPinRetries int
	UPukRetries int
}

type Card struct {
	CardState    CardState
	Applications []Application
}

func EncodeUIMGetCardStatus(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMGetCardStatus}
}

const tlvUIMCardList byte = 0x01

// ParseUIMGetCardStatusResponse decodes the flattened card/application
// table: {card_count u8, [card_state u8, app_count u8, [state u8,
// pin1_state u8, pin1_retries u8, puk1_retries u8, upin_state u8,
// upin_retries u8, upuk_retries u8]...]...}.
func ParseUIMGetCardStatusResponse(msg *qmi.Message) ([]Card, error) {
	if err := checkResult(msg); err != nil {
		return nil, err
	}
	v, ok := msg.TLVByType(tlvUIMCardList)
	if !ok || len(v) < 1 {
		return nil, fmt.Errorf("codec: card status response missing card list")
	}
	cardCount := int(v[0])
	rest := v[1:]
	cards := make([]Card, 0, cardCount)
	for c := 0; c < cardCount; c++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("codec: card status TLV truncated at card %d", c)
		}
		card := Card{CardState: CardState(rest[0])}
		appCount := int(rest[1])
		rest = rest[2:]
		for a := 0; a < appCount; a++ {
			if len(rest) < 7 {
				return nil, fmt.Errorf("codec: card status TLV truncated at card %d app %d", c, a)
			}
			card.Applications = append(card.Applications, Application{
				State:       AppState(rest[0]),
				Pin1State:   PinState(rest[1]),
				Pin1Retries: int(rest[2]),
				Puk1Retries: int(rest[3]),
				UPinState:   PinState(rest[4]),
				UPinRetries: int(rest[5]),
				UPukRetries: int(rest[6]),
			})
			rest = rest[7:]
		}
		cards = append(cards, card)
	}
	return cards, nil
}

const (
	tlvUIMVerifyPinID  byte = 0x01 // {pin_id u8, pin_len u8, pin bytes}
	tlvUIMUnblockPinID byte = 0x01 // {pin_id u8, puk_len u8, puk bytes, new_len u8, new bytes}
)

func EncodeUIMVerifyPIN(clientID byte, tid uint16, pin PinID, value string) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMVerifyPIN}
	payload := append([]byte{byte(pin), byte(len(value))}, []byte(value)...)
	msg.SetTLV(tlvUIMVerifyPinID, payload)
	return msg
}

func ParseUIMVerifyPINResponse(msg *qmi.Message) error {
	return checkResult(msg)
}

func EncodeUIMUnblockPIN(clientID byte, tid uint16, pin PinID, puk, newPIN string) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMUnblockPIN}
	payload := []byte{byte(pin), byte(len(puk))}
	payload = append(payload, []byte(puk)...)
	payload = append(payload, byte(len(newPIN)))
	payload = append(payload, []byte(newPIN)...)
	msg.SetTLV(tlvUIMUnblockPinID, payload)
	return msg
}

func ParseUIMUnblockPINResponse(msg *qmi.Message) error {
	return checkResult(msg)
}

// EF.IMSI lives at path 3F00/7FFF, file id 6F07, per 3GPP TS 11.11.
const (
	EFIMSIPathMF  uint16 = 0x3f00
	EFIMSIPathDF  uint16 = 0x7fff
	EFIMSIFileID  uint16 = 0x6f07
)

const tlvUIMReadTransparentReq byte = 0x01  // {path_len u8, [path_component u16 LE]..., file_id u16 LE, offset u16 LE, length u16 LE}
const tlvUIMReadTransparentResp byte = 0x01 // raw file contents, length-prefixed {len u16 LE, data}

func EncodeUIMReadTransparentEFIMSI(clientID byte, tid uint16) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceUIM, ClientID: clientID, TID: tid, MessageID: MsgUIMReadTransparent}
	req := []byte{2,
		byte(EFIMSIPathMF & 0xff), byte(EFIMSIPathMF >> 8),
		byte(EFIMSIPathDF & 0xff), byte(EFIMSIPathDF >> 8),
		byte(EFIMSIFileID & 0xff), byte(EFIMSIFileID >> 8),
		0, 0, // offset
		0, 0, // length (0 = whole file)
	}
	msg.SetTLV(tlvUIMReadTransparentReq, req)
	return msg
}

// ParseUIMReadTransparentResponse returns the raw EF.IMSI bytes for
// bcd.DecodeIMSI to decode.
func ParseUIMReadTransparentResponse(msg *qmi.Message) ([]byte, error) {
	if err := checkResult(msg); err != nil {
		return nil, err
	}
	v, ok := msg.TLVByType(tlvUIMReadTransparentResp)
	if !ok || len(v) < 2 {
		return nil, fmt.Errorf("codec: read-transparent response missing content TLV")
	}
	n, err := readU16(v[:2])
	if err != nil {
		return nil, err
	}
	if len(v)-2 < int(n) {
		return nil, fmt.Errorf("codec: read-transparent content shorter than declared length")
	}
	return v[2 : 2+n], nil
}
