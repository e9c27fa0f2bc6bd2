/*
 * uqmid - RPC surface tables.
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

// Package rpc describes the daemon's RPC surface: the method names and
// parameter/result tables (`add_modem`, `remove_modem`, per-modem
// `configure`/`remove`/`opmode`/`networkstatus`/`dump`), plus a
// Dispatcher any external bus binding can call into. No bus binding is
// provided — ubus, HTTP, gRPC, whatever a deployment chooses is out of
// scope here — only the surface and one concrete adapter onto the
// Lifecycle façade.
package rpc

import (
	"fmt"

	"github.com/openwrt/uqmid/internal/fsm/modem"
	"github.com/openwrt/uqmid/internal/lifecycle"
)

// Method names on the RPC surface.
const (
	MethodAddModem       = "add_modem"
	MethodRemoveModem    = "remove_modem"
	MethodConfigure      = "configure"
	MethodRemove         = "remove"
	MethodOpMode         = "opmode"
	MethodNetworkStatus  = "networkstatus"
	MethodDump           = "dump"
)

// ParamType is the shape of one RPC parameter.
type ParamType int

const (
	ParamString ParamType = 1 + iota
	ParamBool
	ParamEnum
)

// Param describes one named parameter a Method accepts.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
	// Values lists the valid strings for a ParamEnum parameter, e.g.
	// the driver parameter's {"qmi", "mbim"}.
	Values []string
}

// Method describes one RPC surface entry: its name and parameter
// table.
type Method struct {
	Name   string
	Params []Param
}

// Table is the full RPC surface.
var Table = []Method{
	{Name: MethodAddModem, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
		{Name: "device", Type: ParamString, Required: true},
		{Name: "driver", Type: ParamEnum, Required: true, Values: []string{"qmi", "mbim"}},
	}},
	{Name: MethodRemoveModem, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
	}},
	{Name: MethodConfigure, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
		{Name: "apn", Type: ParamString},
		{Name: "username", Type: ParamString},
		{Name: "password", Type: ParamString},
		{Name: "pin", Type: ParamString},
		{Name: "roaming", Type: ParamBool},
	}},
	{Name: MethodRemove, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
	}},
	{Name: MethodOpMode, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
	}},
	{Name: MethodNetworkStatus, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
	}},
	{Name: MethodDump, Params: []Param{
		{Name: "name", Type: ParamString, Required: true},
	}},
}

// Result is the key/value table every RPC method returns.
type Result map[string]any

// Dispatcher is what an external bus binding calls into: one request
// in, one Result (or error) out.
type Dispatcher interface {
	Dispatch(method string, args map[string]any) (Result, error)
}

// LifecycleDispatcher adapts the Lifecycle façade to Dispatcher,
// translating the generic key/value args a bus binding hands in into
// typed Lifecycle calls and back into Result tables.
type LifecycleDispatcher struct {
	Lifecycle *lifecycle.Lifecycle
}

// Dispatch implements Dispatcher.
func (d *LifecycleDispatcher) Dispatch(method string, args map[string]any) (Result, error) {
	switch method {
	case MethodAddModem:
		return d.addModem(args)
	case MethodRemoveModem, MethodRemove:
		return d.removeModem(args)
	case MethodConfigure:
		return d.configure(args)
	case MethodOpMode:
		return d.opMode(args)
	case MethodNetworkStatus:
		return d.networkStatus(args)
	case MethodDump:
		return d.dump(args)
	default:
		return nil, fmt.Errorf("rpc: unknown method %q", method)
	}
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("rpc: missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("rpc: argument %q must be a string", name)
	}
	return s, nil
}

func optionalString(args map[string]any, name string) string {
	if v, ok := args[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func optionalBool(args map[string]any, name string) bool {
	if v, ok := args[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (d *LifecycleDispatcher) addModem(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	devicePath, err := stringArg(args, "device")
	if err != nil {
		return nil, err
	}
	driverName, err := stringArg(args, "driver")
	if err != nil {
		return nil, err
	}
	driver := lifecycle.DriverQMI
	switch driverName {
	case "qmi":
		driver = lifecycle.DriverQMI
	case "mbim":
		driver = lifecycle.DriverMBIM
	default:
		return nil, fmt.Errorf("rpc: unknown driver %q", driverName)
	}
	if err := d.Lifecycle.AddModem(name, devicePath, driver); err != nil {
		return nil, err
	}
	return Result{"ok": true}, nil
}

func (d *LifecycleDispatcher) removeModem(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	if err := d.Lifecycle.RemoveModem(name); err != nil {
		return nil, err
	}
	return Result{"ok": true}, nil
}

func (d *LifecycleDispatcher) configure(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	cfg := modem.Config{
		APN:      optionalString(args, "apn"),
		Username: optionalString(args, "username"),
		Password: optionalString(args, "password"),
		PIN:      optionalString(args, "pin"),
		Roaming:  optionalBool(args, "roaming"),
	}
	if err := d.Lifecycle.ConfigureModem(name, cfg); err != nil {
		return nil, err
	}
	return Result{"ok": true}, nil
}

func (d *LifecycleDispatcher) opMode(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	mode, err := d.Lifecycle.GetOperatingMode(name)
	if err != nil {
		return nil, err
	}
	return Result{"mode": mode.String()}, nil
}

func (d *LifecycleDispatcher) networkStatus(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	ns, err := d.Lifecycle.GetNetworkStatus(name)
	if err != nil {
		return nil, err
	}
	return Result{
		"state":       int(ns.State),
		"rat":         int(ns.RAT),
		"mcc":         ns.MCC,
		"mnc":         ns.MNC,
		"mnc_len":     ns.MNCLen,
		"cs_attached": ns.CSAttached,
		"ps_attached": ns.PSAttached,
		"error":       ns.LastError,
	}, nil
}

func (d *LifecycleDispatcher) dump(args map[string]any) (Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	snap, err := d.Lifecycle.Dump(name)
	if err != nil {
		return nil, err
	}
	return Result{
		"name":           snap.Name,
		"state":          snap.State.String(),
		"device":         snap.DevicePath,
		"imei":           snap.IMEI,
		"manufacturer":   snap.Manufacturer,
		"model":          snap.Model,
		"revision":       snap.Revision,
		"imsi":           snap.IMSI,
		"iccid":          snap.ICCID,
		"subsystem_name": snap.SubsystemName,
		"opmode":         snap.OperatingMode.String(),
		"reg_state":      int(snap.Registration.State),
		"rat":            int(snap.Registration.RAT),
		"mcc":            snap.Registration.MCC,
		"mnc":            snap.Registration.MNC,
		"mnc_len":        snap.Registration.MNCLen,
		"cs_attached":    snap.Registration.CSAttached,
		"ps_attached":    snap.Registration.PSAttached,
		"error":          snap.Registration.LastError,
		"packet_data_handle": snap.Bearer.PacketDataHandle,
	}, nil
}
