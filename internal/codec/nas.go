/*
 * uqmid - NAS service messages.
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

	"github.com/openwrt/uqmid/internal/qmi"
)

const (
	MsgNASRegisterIndications uint16 = 0x0003
	MsgNASGetServingSystem    uint16 = 0x0024
	MsgNASForceNetworkSearch  uint16 = 0x0025
)

// RegState mirrors the NAS registration-state enumeration.
type RegState byte

const (
	RegStateNotRegistered RegState = iota
	RegStateRegistered
	RegStateSearching
	RegStateRegistrationDenied
	RegStateUnknown
)

// RAT identifies the radio access technology currently serving.
type RAT byte

const (
	RATUnknown RAT = iota
	RATGSM
	RATUMTS
	RATLTE
	RATNR
)

// ServingSystem is the decoded Get-Serving-System response.
type ServingSystem struct {
	State      RegState
	RAT        RAT
	MCC        string
	MNC        string
	MNCLen     int // 2 or 3; never truncate a 3-digit MNC to 2
	CSAttached bool
	PSAttached bool
}

const (
	tlvNASRegIndMask     byte = 0x10 // u32 bitmask: which indications to enable
	tlvNASServingSystem  byte = 0x01 // {state u8, rat u8, cs u8, ps u8}
	tlvNASPLMN           byte = 0x12 // {mcc u16 LE, mnc u16 LE, mnc_len u8, name...}
)

const (
	indMaskServingSystem uint32 = 1 << 0
	indMaskSubscription  uint32 = 1 << 1
	indMaskSystemInfo    uint32 = 1 << 2
	indMaskSignal        uint32 = 1 << 3
	indMaskReject        uint32 = 1 << 4
)

func EncodeNASRegisterIndications(clientID byte, tid uint16) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceNAS, ClientID: clientID, TID: tid, MessageID: MsgNASRegisterIndications}
	mask := indMaskServingSystem | indMaskSubscription | indMaskSystemInfo | indMaskSignal | indMaskReject
	msg.SetTLV(tlvNASRegIndMask, []byte{byte(mask), byte(mask >> 8), byte(mask >> 16), byte(mask >> 24)})
	return msg
}

func ParseNASRegisterIndicationsResponse(msg *qmi.Message) error {
	return checkResult(msg)
}

func EncodeNASGetServingSystem(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceNAS, ClientID: clientID, TID: tid, MessageID: MsgNASGetServingSystem}
}

func ParseNASGetServingSystemResponse(msg *qmi.Message) (ServingSystem, error) {
	var out ServingSystem
	if err := checkResult(msg); err != nil {
		return out, err
	}
	v, ok := msg.TLVByType(tlvNASServingSystem)
	if !ok || len(v) < 4 {
		return out, fmt.Errorf("codec: serving system response missing status TLV")
	}
	out.State = RegState(v[0])
	out.RAT = RAT(v[1])
	out.CSAttached = v[2] != 0
	out.PSAttached = v[3] != 0

	if plmn, ok := msg.TLVByType(tlvNASPLMN); ok && len(plmn) >= 5 {
		mcc, _ := readU16(plmn[0:2])
		mnc, _ := readU16(plmn[2:4])
		mncLen := int(plmn[4])
		out.MCC = fmt.Sprintf("%03d", mcc)
		if mncLen == 2 {
			out.MNC = fmt.Sprintf("%02d", mnc)
		} else {
			out.MNC = fmt.Sprintf("%03d", mnc)
		}
		out.MNCLen = mncLen
	}
	return out, nil
}

func EncodeNASForceNetworkSearch(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceNAS, ClientID: clientID, TID: tid, MessageID: MsgNASForceNetworkSearch}
}

func ParseNASForceNetworkSearchResponse(msg *qmi.Message) error {
	return checkResult(msg)
}
