/*
 * uqmid - Hex conversion test cases.
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

package hex

import (
	"strings"
	"testing"
)

func TestFormatBytesSpaced(t *testing.T) {
	var b strings.Builder
	FormatBytes(&b, true, []byte{0x01, 0xAB, 0xFF})
	if got, want := b.String(), "01 AB FF "; got != want {
		t.Errorf("FormatBytes = %q, want %q", got, want)
	}
}

func TestFormatBytesUnspaced(t *testing.T) {
	var b strings.Builder
	FormatBytes(&b, false, []byte{0x01, 0xAB, 0xFF})
	if got, want := b.String(), "01ABFF"; got != want {
		t.Errorf("FormatBytes = %q, want %q", got, want)
	}
}

func TestFormatByte(t *testing.T) {
	var b strings.Builder
	FormatByte(&b, 0x3c)
	if got, want := b.String(), "3C"; got != want {
		t.Errorf("FormatByte = %q, want %q", got, want)
	}
}

func TestDump(t *testing.T) {
	cases := []struct {
		data []byte
		want string
	}{
		{nil, ""},
		{[]byte{0x01}, "01"},
		{[]byte{0x01, 0x02, 0x03}, "01 02 03"},
	}
	for _, c := range cases {
		if got := Dump(c.data); got != c.want {
			t.Errorf("Dump(%x) = %q, want %q", c.data, got, c.want)
		}
	}
}
