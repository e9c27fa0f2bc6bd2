/*
 * uqmid - WWAN sysfs and ioctl adapter.
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

package kernel

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// hostEndian matches the ifreq union's native byte order; ioctl data is
// never sent over the wire, so there is no fixed endianness to target.
var hostEndian = binary.NativeEndian

// Sysfs is the real Adapter, talking to /sys/class/{usbmisc,usb}/.../net
// and to the kernel's network stack over an AF_INET ioctl socket
// (SIOCGIFFLAGS/SIOCSIFFLAGS/SIOCGIFMTU/SIOCSIFMTU).
type Sysfs struct{}

// candidateSubsystems is checked in order: usbmisc for kernel >= 3.6,
// usb for older kernels.
var candidateSubsystems = []string{"usbmisc", "usb"}

func (Sysfs) RefreshDevice(ctx context.Context, cdcPath string) (Device, error) {
	cdcName, err := realDeviceName(cdcPath)
	if err != nil {
		return Device{}, fmt.Errorf("kernel: resolve %s: %w", cdcPath, err)
	}

	for _, subsystem := range candidateSubsystems {
		netDir := filepath.Join("/sys/class", subsystem, cdcName, "device", "net")
		entries, err := os.ReadDir(netDir)
		if err != nil || len(entries) == 0 {
			continue
		}
		name := entries[0].Name()
		return Device{
			Name:      name,
			SysfsPath: filepath.Join(netDir, name),
			Subsystem: subsystem,
		}, nil
	}
	return Device{}, fmt.Errorf("kernel: no wwan netdev found for %s under %v", cdcName, candidateSubsystems)
}

// realDeviceName resolves cdcPath (e.g. /dev/cdc-wdm0) through any
// symlink and returns its base name.
func realDeviceName(cdcPath string) (string, error) {
	real, err := filepath.EvalSymlinks(cdcPath)
	if err != nil {
		real = cdcPath
	}
	return filepath.Base(real), nil
}

func (Sysfs) ReadConfiguration(sysfsPath string) (LinkConfig, error) {
	qmiDir := filepath.Join(sysfsPath, "qmi")
	rawIP, err := readBoolFile(qmiDir, "raw_ip")
	if err != nil {
		return LinkConfig{}, err
	}
	passThrough, err := readBoolFile(qmiDir, "pass_through")
	if err != nil {
		return LinkConfig{}, err
	}
	return LinkConfig{RawIP: rawIP, PassThrough: passThrough}, nil
}

func (s Sysfs) SetConfiguration(sysfsPath string, cfg LinkConfig) error {
	old, err := s.ReadConfiguration(sysfsPath)
	if err != nil {
		return err
	}
	qmiDir := filepath.Join(sysfsPath, "qmi")
	if cfg.RawIP != old.RawIP {
		if err := writeBoolFile(qmiDir, "raw_ip", cfg.RawIP); err != nil {
			return err
		}
	}
	if cfg.PassThrough != old.PassThrough {
		if err := writeBoolFile(qmiDir, "pass_through", cfg.PassThrough); err != nil {
			return err
		}
	}
	return nil
}

func readBoolFile(dir, name string) (bool, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return false, fmt.Errorf("kernel: read %s/%s: %w", dir, name, err)
	}
	return strings.HasPrefix(strings.TrimSpace(string(b)), "Y"), nil
}

func writeBoolFile(dir, name string, v bool) error {
	val := []byte("N")
	if v {
		val = []byte("Y")
	}
	if err := os.WriteFile(filepath.Join(dir, name), val, 0o644); err != nil {
		return fmt.Errorf("kernel: write %s/%s: %w", dir, name, err)
	}
	return nil
}

// ifreq is the fixed-size struct ifreq layout ioctl(SIOC{G,S}IF*)
// expects: a 16-byte interface name followed by a union big enough for
// the flags/mtu fields those two ioctls use.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [16]byte
}

func newIfreq(netdev string) (ifreq, error) {
	var r ifreq
	if len(netdev) >= unix.IFNAMSIZ {
		return r, fmt.Errorf("kernel: interface name %q too long", netdev)
	}
	copy(r.name[:], netdev)
	return r, nil
}

func withIfSocket(fn func(fd int) error) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("kernel: open ioctl socket: %w", err)
	}
	defer unix.Close(fd)
	return fn(fd)
}

func ioctl(fd int, req uint, r *ifreq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(r)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (Sysfs) SetMTU(netdev string, mtu int) error {
	return withIfSocket(func(fd int) error {
		r, err := newIfreq(netdev)
		if err != nil {
			return err
		}
		if err := ioctl(fd, unix.SIOCGIFMTU, &r); err != nil {
			return fmt.Errorf("kernel: get mtu for %s: %w", netdev, err)
		}
		cur := int(hostEndian.Uint32(r.data[:4]))
		if cur == mtu {
			return nil
		}
		hostEndian.PutUint32(r.data[:4], uint32(mtu))
		if err := ioctl(fd, unix.SIOCSIFMTU, &r); err != nil {
			return fmt.Errorf("kernel: set mtu %d for %s: %w", mtu, netdev, err)
		}
		return nil
	})
}

func (Sysfs) IfUpDown(netdev string, up bool) error {
	return withIfSocket(func(fd int) error {
		r, err := newIfreq(netdev)
		if err != nil {
			return err
		}
		if err := ioctl(fd, unix.SIOCGIFFLAGS, &r); err != nil {
			return fmt.Errorf("kernel: get flags for %s: %w", netdev, err)
		}
		flags := hostEndian.Uint16(r.data[:2])
		isUp := flags&unix.IFF_UP != 0
		if isUp == up {
			return nil
		}
		if up {
			flags |= unix.IFF_UP
		} else {
			flags &^= unix.IFF_UP
		}
		hostEndian.PutUint16(r.data[:2], flags)
		if err := ioctl(fd, unix.SIOCSIFFLAGS, &r); err != nil {
			return fmt.Errorf("kernel: set flags for %s: %w", netdev, err)
		}
		return nil
	})
}
