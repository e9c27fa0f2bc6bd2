/*
 * uqmid - WDA service messages.
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

import "github.com/openwrt/uqmid/internal/qmi"

const MsgWDASetDataFormat uint16 = 0x0020

// LinkLayerProtocol selects the WWAN link-layer framing the kernel
// net-device and the modem must agree on.
type LinkLayerProtocol byte

const (
	LinkLayerRawIP LinkLayerProtocol = 2
	LinkLayer802_3 LinkLayerProtocol = 1
)

// Aggregation selects QMAP/DL aggregation; this daemon always
// disables it.
type Aggregation byte

const (
	AggregationDisabled Aggregation = 0
	AggregationEnabled  Aggregation = 1
)

const (
	tlvWDALinkLayer  byte = 0x11
	tlvWDAAggregation byte = 0x12
)

func EncodeWDASetDataFormat(clientID byte, tid uint16, linkLayer LinkLayerProtocol, agg Aggregation) *qmi.Message {
	msg := &qmi.Message{Service: qmi.ServiceWDA, ClientID: clientID, TID: tid, MessageID: MsgWDASetDataFormat}
	msg.SetTLV(tlvWDALinkLayer, []byte{byte(linkLayer)})
	msg.SetTLV(tlvWDAAggregation, []byte{byte(agg)})
	return msg
}

func ParseWDASetDataFormatResponse(msg *qmi.Message) error {
	return checkResult(msg)
}
