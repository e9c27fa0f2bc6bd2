/*
 * uqmid - BCD codec test cases.
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

package bcd

import "testing"

func TestDecodeICCIDBasic(t *testing.T) {
	// 89 86 00 18 ... swapped nibble BCD, trailing 0xf filler.
	data := []byte{0x98, 0x68, 0x00, 0x81, 0xff}
	got, err := DecodeICCID(data)
	if err != nil {
		t.Fatalf("DecodeICCID: %v", err)
	}
	if got != "89860018" {
		t.Errorf("DecodeICCID = %q", got)
	}
}

func TestDecodeICCIDRejectsAllFiller(t *testing.T) {
	if _, err := DecodeICCID([]byte{0xff, 0xff}); err == nil {
		t.Errorf("expected error decoding all-filler ICCID")
	}
}

func TestDecodeICCIDRejectsEmbeddedFiller(t *testing.T) {
	// high nibble filler followed by more data: invalid, filler must be
	// a true terminator.
	if _, err := DecodeICCID([]byte{0xf1, 0x23}); err == nil {
		t.Errorf("expected error for filler nibble before end of data")
	}
}

func TestDecodeIMSISpecSeedScenario(t *testing.T) {
	// EF.IMSI = 08 29 82 60 82 00 00 20 80, a real card's contents
	data := []byte{0x08, 0x29, 0x82, 0x60, 0x82, 0x00, 0x00, 0x20, 0x80}
	got, err := DecodeIMSI(data)
	if err != nil {
		t.Fatalf("DecodeIMSI: %v", err)
	}
	if got != "228062800000208" {
		t.Errorf("DecodeIMSI = %q, want 228062800000208", got)
	}
}

func TestIMSIRoundTripOddAndEvenLength(t *testing.T) {
	cases := []string{
		"228062800000208", // 15 digits, odd
		"12345678901234",  // 14 digits, even
		"1",                // 1 digit
		"123456789012345",  // 15 digits again, all distinct
	}
	for _, digits := range cases {
		enc, err := EncodeIMSI(digits)
		if err != nil {
			t.Fatalf("EncodeIMSI(%q): %v", digits, err)
		}
		dec, err := DecodeIMSI(enc)
		if err != nil {
			t.Fatalf("DecodeIMSI(encode(%q)): %v", digits, err)
		}
		if dec != digits {
			t.Errorf("round trip mismatch: %q -> %x -> %q", digits, enc, dec)
		}
	}
}

func TestICCIDRoundTrip(t *testing.T) {
	cases := []string{"89860018", "8986001800000000001", "1234567890123456789"}
	for _, digits := range cases {
		enc, err := EncodeICCID(digits)
		if err != nil {
			t.Fatalf("EncodeICCID(%q): %v", digits, err)
		}
		dec, err := DecodeICCID(enc)
		if err != nil {
			t.Fatalf("DecodeICCID(encode(%q)): %v", digits, err)
		}
		if dec != digits {
			t.Errorf("round trip mismatch: %q -> %x -> %q", digits, enc, dec)
		}
	}
}

func TestDecodeIMSIRejectsTruncatedPayload(t *testing.T) {
	if _, err := DecodeIMSI([]byte{0x08, 0x29}); err == nil {
		t.Errorf("expected error when byte count exceeds available payload")
	}
}
