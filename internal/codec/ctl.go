/*
 * uqmid - CTL service messages.
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
	"encoding/binary"
	"fmt"

	"github.com/openwrt/uqmid/internal/qmi"
)

// CTL message IDs. CTL is the only service with an 8-bit transaction
// id and a fixed client id of 0; callers pass tid as a uint8.
const (
	MsgCTLSetInstanceID  uint16 = 0x0020
	MsgCTLGetVersionInfo uint16 = 0x0021
	MsgCTLGetClientID    uint16 = 0x0022
	MsgCTLReleaseCID     uint16 = 0x0023
	MsgCTLSync           uint16 = 0x0027
)

const (
	tlvCTLAllocReqService  byte = 0x01
	tlvCTLAllocRespService byte = 0x01 // {service u8, client_id u8}
	tlvCTLReleaseReq       byte = 0x01 // {service u8, client_id u8}
	tlvCTLVersionList      byte = 0x01 // {count u8, [service u8, major u16, minor u16]...}
)

func EncodeCTLSync(tid uint8) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: uint16(tid), MessageID: MsgCTLSync}
}

// IsCTLSyncIndication reports whether msg is the CTL sync indication
// that the Transaction Engine uses to cancel every outstanding
// request on the Device.
func IsCTLSyncIndication(msg *qmi.Message) bool {
	return msg.IsCTL && msg.Indication && msg.MessageID == MsgCTLSync
}

func EncodeCTLGetVersionInfo(tid uint8) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: uint16(tid), MessageID: MsgCTLGetVersionInfo}
}

// ServiceVersion is one entry of the CTL Get-Version-Info response:
// the service id and the (major, minor) version it reports.
type ServiceVersion struct {
	Service qmi.ServiceID
	Major   uint16
	Minor   uint16
}

func ParseCTLGetVersionInfoResponse(msg *qmi.Message) ([]ServiceVersion, error) {
	if err := checkResult(msg); err != nil {
		return nil, err
	}
	v, ok := msg.TLVByType(tlvCTLVersionList)
	if !ok || len(v) < 1 {
		return nil, fmt.Errorf("codec: version info response missing service list")
	}
	n := int(v[0])
	rest := v[1:]
	out := make([]ServiceVersion, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 5 {
			return nil, fmt.Errorf("codec: version list TLV truncated at entry %d", i)
		}
		out = append(out, ServiceVersion{
			Service: qmi.ServiceID(rest[0]),
			Major:   binary.LittleEndian.Uint16(rest[1:3]),
			Minor:   binary.LittleEndian.Uint16(rest[3:5]),
		})
		rest = rest[5:]
	}
	return out, nil
}

func EncodeCTLGetClientID(tid uint8, service qmi.ServiceID) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: uint16(tid), MessageID: MsgCTLGetClientID}
	msg.SetTLV(tlvCTLAllocReqService, []byte{byte(service)})
	return msg
}

func ParseCTLGetClientIDResponse(msg *qmi.Message) (byte, error) {
	if err := checkResult(msg); err != nil {
		return 0, err
	}
	v, ok := msg.TLVByType(tlvCTLAllocRespService)
	if !ok || len(v) < 2 {
		return 0, fmt.Errorf("codec: client id response missing or short")
	}
	return v[1], nil
}

func EncodeCTLReleaseClientID(tid uint8, service qmi.ServiceID, clientID byte) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceCTL, IsCTL: true, TID: uint16(tid), MessageID: MsgCTLReleaseCID}
	msg.SetTLV(tlvCTLReleaseReq, []byte{byte(service), clientID})
	return msg
}

func ParseCTLReleaseClientIDResponse(msg *qmi.Message) error {
	return checkResult(msg)
}
