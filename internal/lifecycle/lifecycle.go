/*
 * uqmid - Modem lifecycle facade.
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

// Package lifecycle implements the Lifecycle façade: the single-
// threaded runtime loop that owns every managed Modem's Device and
// timers, and the thin add/remove/configure/query translators on top.
// Every façade method is safe to call from any goroutine; the call is
// marshalled onto the loop and the result returned once the loop has
// actually run it, so only the loop goroutine ever touches Device or
// FSM state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/device"
	"github.com/openwrt/uqmid/internal/fsm/modem"
	"github.com/openwrt/uqmid/internal/kernel"
	"github.com/openwrt/uqmid/internal/timer"
)

// ErrUnknownModem is returned by any façade method naming a modem that
// was never added, or was already removed.
var ErrUnknownModem = errors.New("lifecycle: unknown modem")

// ErrModemExists is returned by AddModem when name is already managed.
var ErrModemExists = errors.New("lifecycle: modem already exists")

// Driver selects the wire framing a newly added modem's character
// device speaks: raw QMI, or QMI tunnelled in MBIM.
type Driver int

const (
	DriverQMI Driver = iota
	DriverMBIM
)

// StatusSink receives a push notification on every Modem FSM state
// transition. No bus binding is provided; this is the narrow interface
// an external one would implement to publish state changes.
type StatusSink interface {
	OnModemStateChanged(name string, state modem.State)
}

// NetworkStatus is get_network_status's result.
type NetworkStatus struct {
	State      codec.RegState
	RAT        codec.RAT
	MCC        string
	MNC        string
	MNCLen     int
	CSAttached bool
	PSAttached bool
	LastError  string
}

// Snapshot is dump's result: every field of one managed Modem.
type Snapshot struct {
	Name          string
	State         modem.State
	DevicePath    string
	IMEI          string
	Manufacturer  string
	Model         string
	Revision      string
	IMSI          string
	ICCID         string
	SubsystemName string
	OperatingMode codec.OperatingMode
	Registration  NetworkStatus
	Bearer        modem.Bearer
}

type managedModem struct {
	name       string
	devicePath string
	driver     Driver
	conn       io.ReadWriteCloser
	dev        *device.Device
	fsm        *modem.FSM
}

type readEvent struct {
	name string
	data []byte
	err  error
}

// Lifecycle is the runtime loop plus modem registry. Zero value is not
// usable; construct with New.
type Lifecycle struct {
	kernel kernel.Adapter
	log    *slog.Logger
	sched  *timer.Scheduler

	modems map[string]*managedModem

	sinksMu sync.Mutex
	sinks   []StatusSink

	cmdCh  chan func()
	readCh chan readEvent

	// open is how AddModem acquires a connection for a device path.
	// Tests substitute an in-memory connection here instead of a real
	// character device.
	open func(devicePath string) (io.ReadWriteCloser, error)
}

// New creates a Lifecycle. Call Run in its own goroutine before issuing
// any façade call.
func New(ka kernel.Adapter, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		kernel: ka,
		log:    log,
		sched:  &timer.Scheduler{},
		modems: make(map[string]*managedModem),
		cmdCh:  make(chan func(), 8),
		readCh: make(chan readEvent, 8),
		open:   openCharDevice,
	}
}

// openCharDevice opens path with
// O_RDWR | O_EXCL | O_NONBLOCK | O_NOCTTY. O_EXCL is load-bearing: two
// daemon instances must not manage the same device path at once.
func openCharDevice(path string) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_EXCL|syscall.O_NONBLOCK|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open %s: %w", path, err)
	}
	return f, nil
}

// AddSink registers a StatusSink notified of every future state
// transition, for every modem this Lifecycle manages.
func (l *Lifecycle) AddSink(s StatusSink) {
	l.sinksMu.Lock()
	defer l.sinksMu.Unlock()
	l.sinks = append(l.sinks, s)
}

// OnModemStateChanged implements modem.Parent, forwarding every
// transition to the registered StatusSinks.
func (l *Lifecycle) OnModemStateChanged(name string, state modem.State) {
	l.sinksMu.Lock()
	sinks := append([]StatusSink(nil), l.sinks...)
	l.sinksMu.Unlock()
	for _, s := range sinks {
		s.OnModemStateChanged(name, state)
	}
}

// Run drives the single-threaded event loop: it advances the shared
// timer scheduler once a second, feeds bytes read off managed devices
// to their Device as they arrive, and executes façade calls marshalled
// in from other goroutines. It returns when ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sched.Advance(1)
		case ev := <-l.readCh:
			l.handleRead(ev)
		case cmd := <-l.cmdCh:
			cmd()
		}
	}
}

func (l *Lifecycle) handleRead(ev readEvent) {
	mm, ok := l.modems[ev.name]
	if !ok {
		return // already removed; drain and ignore
	}
	if ev.err != nil {
		return // conn.Close from Destroy; pump is exiting
	}
	mm.dev.Feed(ev.data)
}

// call marshals fn onto the loop goroutine and blocks for its result.
func (l *Lifecycle) call(fn func() error) error {
	done := make(chan error, 1)
	l.cmdCh <- func() { done <- fn() }
	return <-done
}

// pump reads the connection in a loop and forwards bytes to readCh. It
// exits once Read returns an error, which happens once the modem's
// Device has been closed.
func (l *Lifecycle) pump(name string, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			l.readCh <- readEvent{name: name, data: data}
		}
		if err != nil {
			l.readCh <- readEvent{name: name, err: err}
			return
		}
	}
}

// AddModem opens devicePath exclusively, wires a Device and a Modem
// FSM for it, and starts bring-up.
func (l *Lifecycle) AddModem(name, devicePath string, driver Driver) error {
	return l.call(func() error {
		if _, exists := l.modems[name]; exists {
			return fmt.Errorf("%w: %s", ErrModemExists, name)
		}
		conn, err := l.open(devicePath)
		if err != nil {
			return err
		}

		mode := device.ModeQMI
		if driver == DriverMBIM {
			mode = device.ModeMBIM
		}
		dev := device.New(devicePath, mode, conn, l.sched, l.log)

		mm := &managedModem{name: name, devicePath: devicePath, driver: driver, conn: conn, dev: dev}
		dev.OnError(func(err error) { l.reap(name, err) })

		fsm := modem.New(name, dev, l.sched, l.kernel, l, l.log)
		mm.fsm = fsm

		l.modems[name] = mm
		go l.pump(name, conn)
		fsm.Start()
		return nil
	})
}

// reap tears down a modem whose Device hit a transport error. Fatal
// transport failure is not recovered from; the user must re-add the
// modem.
func (l *Lifecycle) reap(name string, err error) {
	mm, ok := l.modems[name]
	if !ok {
		return
	}
	l.log.Error("lifecycle: reaping modem after transport error", "modem", name, "error", err)
	delete(l.modems, name)
	mm.fsm.Destroy()
}

// RemoveModem tears a modem down and forgets it.
func (l *Lifecycle) RemoveModem(name string) error {
	return l.call(func() error {
		mm, ok := l.modems[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModem, name)
		}
		delete(l.modems, name)
		mm.fsm.Destroy()
		return nil
	})
}

// ConfigureModem supplies per-modem attach options to an already-added
// modem.
func (l *Lifecycle) ConfigureModem(name string, cfg modem.Config) error {
	return l.call(func() error {
		mm, ok := l.modems[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModem, name)
		}
		mm.fsm.Configure(cfg)
		return nil
	})
}

// GetOperatingMode reports the last DMS operating mode the Modem FSM
// observed.
func (l *Lifecycle) GetOperatingMode(name string) (codec.OperatingMode, error) {
	var mode codec.OperatingMode
	err := l.call(func() error {
		mm, ok := l.modems[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModem, name)
		}
		mode = mm.fsm.OperatingMode()
		return nil
	})
	return mode, err
}

// GetNetworkStatus reports the Modem FSM's current registration
// state.
func (l *Lifecycle) GetNetworkStatus(name string) (NetworkStatus, error) {
	var out NetworkStatus
	err := l.call(func() error {
		mm, ok := l.modems[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModem, name)
		}
		reg := mm.fsm.Registration()
		out = NetworkStatus{
			State:      reg.State,
			RAT:        reg.RAT,
			MCC:        reg.MCC,
			MNC:        reg.MNC,
			MNCLen:     reg.MNCLen,
			CSAttached: reg.CSAttached,
			PSAttached: reg.PSAttached,
			LastError:  reg.LastError,
		}
		return nil
	})
	return out, err
}

// Dump reports a snapshot of every field of the named Modem.
func (l *Lifecycle) Dump(name string) (Snapshot, error) {
	var out Snapshot
	err := l.call(func() error {
		mm, ok := l.modems[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModem, name)
		}
		id := mm.fsm.Identity()
		reg := mm.fsm.Registration()
		out = Snapshot{
			Name:          name,
			State:         mm.fsm.State(),
			DevicePath:    mm.devicePath,
			IMEI:          id.IMEI,
			Manufacturer:  id.Manufacturer,
			Model:         id.Model,
			Revision:      id.Revision,
			IMSI:          id.IMSI,
			ICCID:         id.ICCID,
			SubsystemName: id.SubsystemName,
			OperatingMode: mm.fsm.OperatingMode(),
			Registration: NetworkStatus{
				State:      reg.State,
				RAT:        reg.RAT,
				MCC:        reg.MCC,
				MNC:        reg.MNC,
				MNCLen:     reg.MNCLen,
				CSAttached: reg.CSAttached,
				PSAttached: reg.PSAttached,
				LastError:  reg.LastError,
			},
			Bearer: mm.fsm.Bearer(),
		}
		return nil
	})
	return out, err
}

// Names returns the currently managed modem names, in no particular
// order.
func (l *Lifecycle) Names() []string {
	var names []string
	_ = l.call(func() error {
		for n := range l.modems {
			names = append(names, n)
		}
		return nil
	})
	return names
}
