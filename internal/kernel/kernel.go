/*
 * uqmid - WWAN kernel adapter interface.
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

// Package kernel is this daemon's interface to the Linux WWAN network
// device backing a QMI modem: discovering which netdev belongs to a
// given character device, reading and writing its raw-ip/pass-through
// mode, and bringing it up/down with an MTU. It is an interface so the
// Modem FSM's CONFIGURE_KERNEL state can be driven by a fake in
// tests.
package kernel

import "context"

// LinkConfig is the two qmi_wwan sysfs knobs that select the kernel
// driver's framing mode for a WWAN netdev.
type LinkConfig struct {
	// RawIP selects raw-ip framing (required for WDA 802.3 aggregation
	// link layer protocols); false keeps Ethernet framing.
	RawIP bool
	// PassThrough disables the kernel's own ARP/DHCP handling so a
	// userspace stack can own the interface entirely.
	PassThrough bool
}

// Device describes the WWAN netdev discovered for one QMI character
// device.
type Device struct {
	// Name is the netdev name, e.g. "wwan0".
	Name string
	// SysfsPath is the /sys/class/<subsystem>/<cdc>/device/net/<name>
	// directory backing Name.
	SysfsPath string
	// Subsystem is "usbmisc" (kernel >= 3.6) or "usb" (older).
	Subsystem string
}

// Adapter is the kernel-facing half of modem bring-up: everything the
// Modem FSM's CONFIGURE_KERNEL state needs from the network stack.
type Adapter interface {
	// RefreshDevice resolves the netdev backing the character device at
	// cdcPath, scanning usbmisc first and falling back to usb.
	RefreshDevice(ctx context.Context, cdcPath string) (Device, error)
	// ReadConfiguration reads the current raw_ip/pass_through state for
	// the netdev at sysfsPath.
	ReadConfiguration(sysfsPath string) (LinkConfig, error)
	// SetConfiguration writes only the fields of cfg that differ from
	// the netdev's current configuration.
	SetConfiguration(sysfsPath string, cfg LinkConfig) error
	// IfUpDown brings netdev up or down, a no-op if already in that
	// state.
	IfUpDown(netdev string, up bool) error
	// SetMTU sets netdev's MTU, a no-op if already at that value.
	SetMTU(netdev string, mtu int) error
}
