/*
 * uqmid - ICCID and IMSI BCD codecs.
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

// Package bcd decodes the two BCD-ish digit encodings the SIM FSM
// reads off the UIM service: ICCID (plain nibble-swapped BCD) and IMSI
// (a length byte plus an odd/even flag, per 3GPP TS 11.11 EF.IMSI).
package bcd

import "fmt"

// filler is the nibble value 3GPP uses to pad an odd-length BCD string
// out to a whole number of octets.
const filler = 0xf

// DecodeICCID decodes an ICCID from its nibble-swapped BCD octets: the
// high nibble of each byte holds the second digit, the low nibble the
// first. Trailing 0xf filler nibbles terminate the digit string; a
// 0xf nibble appearing before the end of the data is a decode error,
// not silently dropped, and an all-filler payload is rejected outright.
func DecodeICCID(data []byte) (string, error) {
	digits := make([]byte, 0, len(data)*2)
	for i, b := range data {
		lo := b & 0x0f
		hi := (b >> 4) & 0x0f

		if lo == filler && hi != filler {
			return "", fmt.Errorf("bcd: filler nibble before end of ICCID at byte %d", i)
		}
		if lo != filler {
			digits = append(digits, '0'+lo)
		}
		if hi == filler {
			for _, rest := range data[i+1:] {
				if rest != 0xff {
					return "", fmt.Errorf("bcd: filler nibble before end of ICCID at byte %d", i)
				}
			}
			break
		}
		digits = append(digits, '0'+hi)
	}
	if len(digits) == 0 {
		return "", fmt.Errorf("bcd: ICCID payload is all filler")
	}
	return string(digits), nil
}

// DecodeIMSI decodes EF.IMSI's payload: byte 0 is the byte count of
// everything that follows; of those bytes, the first one's low nibble
// carries the odd/even parity flag (bit 0 set means an odd total digit
// count) and its high nibble carries the first digit; every following
// byte is nibble-swapped BCD (low nibble then high nibble) as in
// DecodeICCID, read until the parity-derived digit count is reached.
func DecodeIMSI(data []byte) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("bcd: IMSI payload too short")
	}
	n := int(data[0])
	if n < 1 || len(data)-1 < n {
		return "", fmt.Errorf("bcd: IMSI byte count %d exceeds payload", n)
	}
	payload := data[1 : 1+n]

	odd := payload[0]&0x01 != 0
	total := 2*n - 2
	if odd {
		total = 2*n - 1
	}
	if total < 1 || total > 15 {
		return "", fmt.Errorf("bcd: IMSI digit count out of range: %d", total)
	}

	digits := make([]byte, 0, total)
	digits = append(digits, '0'+(payload[0]>>4))

	for i := 1; i < len(payload) && len(digits) < total; i++ {
		b := payload[i]
		lo := b & 0x0f
		hi := (b >> 4) & 0x0f

		if lo == filler {
			break
		}
		digits = append(digits, '0'+lo)
		if len(digits) >= total {
			break
		}
		if hi == filler {
			break
		}
		digits = append(digits, '0'+hi)
	}

	if len(digits) != total {
		return "", fmt.Errorf("bcd: IMSI decoded %d digits, parity declared %d", len(digits), total)
	}
	return string(digits), nil
}

// EncodeIMSI is the inverse of DecodeIMSI.
func EncodeIMSI(digits string) ([]byte, error) {
	if len(digits) < 1 || len(digits) > 15 {
		return nil, fmt.Errorf("bcd: IMSI digit count out of range: %d", len(digits))
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("bcd: IMSI contains non-digit %q", c)
		}
	}

	odd := len(digits)%2 != 0
	n := (len(digits) + 1) / 2
	if !odd {
		n = len(digits)/2 + 1
	}

	parity := byte(0)
	if odd {
		parity = 1
	}
	payload := make([]byte, 0, n)
	payload = append(payload, (digits[0]-'0')<<4|parity)

	rest := digits[1:]
	for i := 0; i < len(rest); i += 2 {
		lo := rest[i] - '0'
		hi := byte(filler)
		if i+1 < len(rest) {
			hi = rest[i+1] - '0'
		}
		payload = append(payload, hi<<4|lo)
	}

	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// EncodeICCID is the inverse of DecodeICCID.
func EncodeICCID(digits string) ([]byte, error) {
	if len(digits) == 0 {
		return nil, fmt.Errorf("bcd: ICCID digit string empty")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("bcd: ICCID contains non-digit %q", c)
		}
	}
	out := make([]byte, 0, len(digits)/2+1)
	for i := 0; i < len(digits); i += 2 {
		lo := digits[i] - '0'
		hi := byte(filler)
		if i+1 < len(digits) {
			hi = digits[i+1] - '0'
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}
