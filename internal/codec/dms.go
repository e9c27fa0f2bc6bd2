/*
 * uqmid - DMS service messages.
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
	MsgDMSGetManufacturer  uint16 = 0x0021
	MsgDMSGetModel         uint16 = 0x0022
	MsgDMSGetRevision      uint16 = 0x0023
	MsgDMSGetIDs           uint16 = 0x0025 // ESN/IMEI/MEID
	MsgDMSGetIMSI          uint16 = 0x0026
	MsgDMSGetOperatingMode uint16 = 0x002d
	MsgDMSSetOperatingMode uint16 = 0x002e
)

const (
	tlvDMSGenericString byte = 0x01 // plain string result, used by manufacturer/model/revision/IMSI
	tlvDMSIMEI          byte = 0x01 // string, within the Get-IDs response
	tlvDMSOperatingMode byte = 0x01 // u8
	tlvDMSSetMode       byte = 0x01 // u8, request side
)

// OperatingMode mirrors the DMS operating-mode enumeration the
// Lifecycle façade's get_operating_mode surfaces verbatim.
type OperatingMode byte

const (
	ModeOnline OperatingMode = iota
	ModeLowPower
	ModeFactoryTest
	ModeOffline
	ModeReset
	ModeShuttingDown
	ModePersistentLowPower
	ModeOnlyLowPower
)

func (m OperatingMode) String() string {
	switch m {
	case ModeOnline:
		return "ONLINE"
	case ModeLowPower:
		return "LOW_POWER"
	case ModeFactoryTest:
		return "FACTORY_TEST"
	case ModeOffline:
		return "OFFLINE"
	case ModeReset:
		return "RESET"
	case ModeShuttingDown:
		return "SHUTTING_DOWN"
	case ModePersistentLowPower:
		return "PERSISTENT_LOW_POWER"
	case ModeOnlyLowPower:
		return "MODE_ONLY_LOW_POWER"
	default:
		return fmt.Sprintf("MODE(%d)", byte(m))
	}
}

func EncodeDMSGetManufacturer(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetManufacturer}
}

func ParseDMSGetManufacturerResponse(msg *qmi.Message) (string, error) {
	return parseDMSString(msg)
}

func EncodeDMSGetModel(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetModel}
}

func ParseDMSGetModelResponse(msg *qmi.Message) (string, error) {
	return parseDMSString(msg)
}

func EncodeDMSGetRevision(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetRevision}
}

func ParseDMSGetRevisionResponse(msg *qmi.Message) (string, error) {
	return parseDMSString(msg)
}

func EncodeDMSGetIDs(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetIDs}
}

// ParseDMSGetIDsResponse extracts the IMEI, the only identifier this
// daemon surfaces from DMS Get-IDs.
func ParseDMSGetIDsResponse(msg *qmi.Message) (imei string, err error) {
	if err := checkResult(msg); err != nil {
		return "", err
	}
	v, ok := msg.TLVByType(tlvDMSIMEI)
	if !ok {
		return "", fmt.Errorf("codec: Get-IDs response missing IMEI TLV")
	}
	return stringTLV(v), nil
}

func EncodeDMSGetIMSI(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetIMSI}
}

func ParseDMSGetIMSIResponse(msg *qmi.Message) (string, error) {
	return parseDMSString(msg)
}

func parseDMSString(msg *qmi.Message) (string, error) {
	if err := checkResult(msg); err != nil {
		return "", err
	}
	v, ok := msg.TLVByType(tlvDMSGenericString)
	if !ok {
		return "", fmt.Errorf("codec: DMS response missing string TLV")
	}
	return stringTLV(v), nil
}

func EncodeDMSGetOperatingMode(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSGetOperatingMode}
}

func ParseDMSGetOperatingModeResponse(msg *qmi.Message) (OperatingMode, error) {
	if err := checkResult(msg); err != nil {
		return 0, err
	}
	v, ok := msg.TLVByType(tlvDMSOperatingMode)
	if !ok || len(v) < 1 {
		return 0, fmt.Errorf("codec: operating mode response missing mode TLV")
	}
	return OperatingMode(v[0]), nil
}

func EncodeDMSSetOperatingMode(clientID byte, tid uint16, mode OperatingMode) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceDMS, ClientID: clientID, TID: tid, MessageID: MsgDMSSetOperatingMode}
	msg.SetTLV(tlvDMSSetMode, []byte{byte(mode)})
	return msg
}

func ParseDMSSetOperatingModeResponse(msg *qmi.Message) error {
	return checkResult(msg)
}
