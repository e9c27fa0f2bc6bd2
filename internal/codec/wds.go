/*
 * uqmid - WDS service messages.
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
	"net"

	"github.com/openwrt/uqmid/internal/qmi"
)

const (
	MsgWDSStartNetwork        uint16 = 0x0020
	MsgWDSStopNetwork         uint16 = 0x0021
	MsgWDSGetCurrentSettings  uint16 = 0x002d
	MsgWDSGetProfileList      uint16 = 0x002a
	MsgWDSModifyProfile       uint16 = 0x0028
)

// PDPType mirrors config.pdp_type / the WDS profile's packet-data
// protocol type.
type PDPType byte

const (
	PDPTypeIPv4 PDPType = iota
	PDPTypeIPv6
	PDPTypeIPv4v6
	PDPTypePPP
)

// IPFamily is the WDS ip_family_preference TLV value: 4 or 6, matching
// the wire convention rather than a zero-based enum.
type IPFamily byte

const (
	IPFamilyIPv4 IPFamily = 4
	IPFamilyIPv6 IPFamily = 6
)

// Profile is one entry of the Get-Profile-List response.
type Profile struct {
	Index   uint8
	Name    string
	PDPType PDPType
}

const tlvWDSProfileList byte = 0x01 // {count u8, [index u8, name_len u8, name..., pdp_type u8]...}

func EncodeWDSGetProfileList(clientID byte, tid uint16) *qmi.Message {
	return &qmi.Message{Service: qmi.ServiceWDS, ClientID: clientID, TID: tid, MessageID: MsgWDSGetProfileList}
}

func ParseWDSGetProfileListResponse(msg *qmi.Message) ([]Profile, error) {
	if err := checkResult(msg); err != nil {
		return nil, err
	}
	v, ok := msg.TLVByType(tlvWDSProfileList)
	if !ok || len(v) < 1 {
		return nil, fmt.Errorf("codec: profile list response missing entries")
	}
	n := int(v[0])
	rest := v[1:]
	out := make([]Profile, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("codec: profile list truncated at entry %d", i)
		}
		index := rest[0]
		nameLen := int(rest[1])
		rest = rest[2:]
		if len(rest) < nameLen+1 {
			return nil, fmt.Errorf("codec: profile list truncated name at entry %d", i)
		}
		name := string(rest[:nameLen])
		pdpType := PDPType(rest[nameLen])
		rest = rest[nameLen+1:]
		out = append(out, Profile{Index: index, Name: name, PDPType: pdpType})
	}
	return out, nil
}

const (
	tlvWDSModifyProfileIndex    byte = 0x01 // u8
	tlvWDSModifyAPN             byte = 0x14
	tlvWDSModifyPDPType         byte = 0x11
	tlvWDSModifyUsername        byte = 0x1b
	tlvWDSModifyPassword        byte = 0x1c
	tlvWDSModifyDisallowRoaming byte = 0x1a
)

// ModifyProfileRequest bundles what CONFIGURE_MODEM writes into a WDS
// profile before Start-Network; zero-value string fields are omitted
// from the wire request rather than sent as empty.
type ModifyProfileRequest struct {
	Index            uint8
	APN              string
	Username         string
	Password         string
	PDPType          PDPType
	DisallowRoaming  bool
}

func EncodeWDSModifyProfile(clientID byte, tid uint16, req ModifyProfileRequest) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceWDS, ClientID: clientID, TID: tid, MessageID: MsgWDSModifyProfile}
	msg.SetTLV(tlvWDSModifyProfileIndex, []byte{req.Index})
	if req.APN != "" {
		msg.SetTLV(tlvWDSModifyAPN, []byte(req.APN))
	}
	msg.SetTLV(tlvWDSModifyPDPType, []byte{byte(req.PDPType)})
	if req.Username != "" {
		msg.SetTLV(tlvWDSModifyUsername, []byte(req.Username))
	}
	if req.Password != "" {
		msg.SetTLV(tlvWDSModifyPassword, []byte(req.Password))
	}
	disallow := byte(0)
	if req.DisallowRoaming {
		disallow = 1
	}
	msg.SetTLV(tlvWDSModifyDisallowRoaming, []byte{disallow})
	return msg
}

func ParseWDSModifyProfileResponse(msg *qmi.Message) error {
	return checkResult(msg)
}

const (
	tlvWDSStartProfileIndex byte = 0x31
	tlvWDSStartIPFamily     byte = 0x19
	tlvWDSStartAutoconnect  byte = 0x12
	tlvWDSStartPacketHandle byte = 0x01 // u32, response side
)

func EncodeWDSStartNetwork(clientID byte, tid uint16, profileIndex uint8, family IPFamily, autoconnect bool) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceWDS, ClientID: clientID, TID: tid, MessageID: MsgWDSStartNetwork}
	msg.SetTLV(tlvWDSStartProfileIndex, []byte{profileIndex})
	msg.SetTLV(tlvWDSStartIPFamily, []byte{byte(family)})
	auto := byte(0)
	if autoconnect {
		auto = 1
	}
	msg.SetTLV(tlvWDSStartAutoconnect, []byte{auto})
	return msg
}

// ParseWDSStartNetworkResponse returns the packet-data handle on
// success. The caller branches on a *ProtocolError's Code to decide
// between a retry (CALL_FAILED), a cleanup-then-retry (NO_EFFECT), or
// an abort (anything else).
func ParseWDSStartNetworkResponse(msg *qmi.Message) (uint32, error) {
	if err := checkResult(msg); err != nil {
		return 0, err
	}
	v, ok := msg.TLVByType(tlvWDSStartPacketHandle)
	if !ok {
		return 0, fmt.Errorf("codec: start-network response missing packet handle")
	}
	return readU32(v)
}

const (
	tlvWDSStopHandle              byte = 0x01
	tlvWDSStopDisableAutoconnect  byte = 0x10
)

// StopNetworkDisableHandle is the sentinel packet-data handle
// Stop-Network uses to mean "whatever is currently active".
const StopNetworkDisableHandle uint32 = 0xffffffff

func EncodeWDSStopNetwork(clientID byte, tid uint16, handle uint32, disableAutoconnect bool) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceWDS, ClientID: clientID, TID: tid, MessageID: MsgWDSStopNetwork}
	msg.SetTLV(tlvWDSStopHandle, tlvU32Bytes(handle))
	disable := byte(0)
	if disableAutoconnect {
		disable = 1
	}
	msg.SetTLV(tlvWDSStopDisableAutoconnect, []byte{disable})
	return msg
}

func ParseWDSStopNetworkResponse(msg *qmi.Message) error {
	return checkResult(msg)
}

func tlvU32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

const (
	tlvWDSSettingsRequestMask byte = 0x10 // u32 bitmask of which fields to return
	tlvWDSSettingsIPv4Addr    byte = 0x1e // u32
	tlvWDSSettingsIPv4Mask    byte = 0x21 // u32
	tlvWDSSettingsIPv4GW      byte = 0x20 // u32
	tlvWDSSettingsDNS1        byte = 0x15
	tlvWDSSettingsDNS2        byte = 0x16
	tlvWDSSettingsMTU         byte = 0x29
	tlvWDSSettingsIPv6Addr    byte = 0x26 // 16 bytes + prefix len
	tlvWDSSettingsDomains     byte = 0x1f // NUL-separated list
)

// Settings is the decoded Get-Current-Settings response: whichever of
// the IPv4 or IPv6 fields the bearer's PDP type populated.
type Settings struct {
	IPv4Addr    net.IP
	IPv4Mask    net.IP
	IPv4Gateway net.IP
	DNS1        net.IP
	DNS2        net.IP
	IPv6Addr    net.IP
	MTU         uint32
	Domains     []string
}

func EncodeWDSGetCurrentSettings(clientID byte, tid uint16) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceWDS, ClientID: clientID, TID: tid, MessageID: MsgWDSGetCurrentSettings}
	mask := uint32(0xffffffff) // request every field this daemon understands
	msg.SetTLV(tlvWDSSettingsRequestMask, tlvU32Bytes(mask))
	return msg
}

func ParseWDSGetCurrentSettingsResponse(msg *qmi.Message) (Settings, error) {
	var out Settings
	if err := checkResult(msg); err != nil {
		return out, err
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsIPv4Addr); ok {
		if a, err := readU32(v); err == nil {
			out.IPv4Addr = ipv4FromU32(a)
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsIPv4Mask); ok {
		if a, err := readU32(v); err == nil {
			out.IPv4Mask = ipv4FromU32(a)
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsIPv4GW); ok {
		if a, err := readU32(v); err == nil {
			out.IPv4Gateway = ipv4FromU32(a)
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsDNS1); ok {
		if a, err := readU32(v); err == nil {
			out.DNS1 = ipv4FromU32(a)
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsDNS2); ok {
		if a, err := readU32(v); err == nil {
			out.DNS2 = ipv4FromU32(a)
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsIPv6Addr); ok && len(v) >= 16 {
		out.IPv6Addr = net.IP(append([]byte{}, v[:16]...))
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsMTU); ok {
		if m, err := readU32(v); err == nil {
			out.MTU = m
		}
	}
	if v, ok := msg.TLVByType(tlvWDSSettingsDomains); ok {
		out.Domains = splitNUL(v)
	}
	return out, nil
}

func ipv4FromU32(v uint32) net.IP {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v) // v was read little-endian off the wire; big-endian output gives dotted-quad order
	return net.IP(b)
}

func splitNUL(v []byte) []string {
	var out []string
	start := 0
	for i, b := range v {
		if b == 0 {
			if i > start {
				out = append(out, string(v[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(v) {
		out = append(out, string(v[start:]))
	}
	return out
}
