/*
 * uqmid - RPC surface test cases.
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

package rpc

import "testing"

func TestTableMethodNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range Table {
		if seen[m.Name] {
			t.Fatalf("duplicate method name %q in Table", m.Name)
		}
		seen[m.Name] = true
		if len(m.Params) == 0 {
			t.Fatalf("method %q declares no parameters; every method takes at least name", m.Name)
		}
		if m.Params[0].Name != "name" || !m.Params[0].Required {
			t.Fatalf("method %q's first parameter must be required %q", m.Name, "name")
		}
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := &LifecycleDispatcher{}
	if _, err := d.Dispatch("no_such_method", nil); err == nil {
		t.Fatalf("expected an error for an unknown method")
	}
}

func TestDispatchMissingRequiredArgument(t *testing.T) {
	d := &LifecycleDispatcher{}
	cases := []struct {
		method string
		args   map[string]any
	}{
		{MethodAddModem, map[string]any{}},
		{MethodAddModem, map[string]any{"name": "modem0"}},
		{MethodAddModem, map[string]any{"name": "modem0", "device": "/dev/cdc-wdm0"}},
		{MethodRemoveModem, map[string]any{}},
		{MethodConfigure, map[string]any{}},
		{MethodOpMode, map[string]any{}},
		{MethodNetworkStatus, map[string]any{}},
		{MethodDump, map[string]any{}},
	}
	for _, c := range cases {
		if _, err := d.Dispatch(c.method, c.args); err == nil {
			t.Fatalf("%s(%v): expected a missing-argument error", c.method, c.args)
		}
	}
}

func TestDispatchAddModemUnknownDriver(t *testing.T) {
	d := &LifecycleDispatcher{}
	args := map[string]any{"name": "modem0", "device": "/dev/cdc-wdm0", "driver": "carrier-pigeon"}
	if _, err := d.Dispatch(MethodAddModem, args); err == nil {
		t.Fatalf("expected an error for an unrecognized driver")
	}
}
