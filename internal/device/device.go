/*
 * uqmid - QMI device and transaction engine.
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

// Package device owns one open QMI character device: its read/write
// buffers, the Service Registry keyed by QMI service id, and the
// Transaction Engine that turns message traffic on that device into
// completed Requests and dispatched indications.
package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/qmi"
	"github.com/openwrt/uqmid/internal/timer"
	"github.com/openwrt/uqmid/internal/wire"
	"github.com/openwrt/uqmid/util/hex"
)

// Mode selects the Frame Layer's wire format: raw QMUX or QMI
// tunnelled inside MBIM Command/Command-Done envelopes.
type Mode int

const (
	ModeQMI Mode = iota
	ModeMBIM
)

// State is the Device's own lifecycle state, independent of its
// Services' states.
type State int

const (
	StateOpening State = iota
	StateReady
	StateError
	StateClosing
	StateClosed
)

var (
	errTIDExhausted = errors.New("device: transaction id space exhausted")
	// ErrCancelled is the error a Request's callback receives when it
	// is cancelled rather than completed by a matching response.
	ErrCancelled = errors.New("device: request cancelled")
)

// conn is the subset of *os.File this package needs; tests substitute
// an in-memory implementation instead of opening a real character
// device.
type conn interface {
	io.Reader
	io.Writer
	Close() error
}

// Device owns one open QMI character device: its connection, its read
// reassembly buffer, the Service Registry, and the CTL service used to
// allocate and release client ids for every other service.
type Device struct {
	Path string
	Mode Mode

	conn    conn
	rd      wire.Reader
	mbimTID uint32
	mbimBuf []byte

	state    State
	services map[qmi.ServiceID]*Service
	ctl      *Service

	sched *timer.Scheduler

	onError func(error)
	log     *slog.Logger
}

// Open opens path as a QMI character device. O_EXCL is load-bearing:
// two Device instances must never open the same path at once.
func Open(path string, mode Mode, sched *timer.Scheduler, log *slog.Logger) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_EXCL|syscall.O_NONBLOCK|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	return newDevice(path, mode, f, sched, log), nil
}

// New wraps an already-open connection (a real file descriptor handed in
// by a caller that did its own opening, or a fake for an FSM package's own
// tests) as a Device, without Open's O_EXCL character-device semantics.
func New(path string, mode Mode, c io.ReadWriteCloser, sched *timer.Scheduler, log *slog.Logger) *Device {
	return newDevice(path, mode, c, sched, log)
}

func newDevice(path string, mode Mode, c conn, sched *timer.Scheduler, log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	d := &Device{
		Path:     path,
		Mode:     mode,
		conn:     c,
		state:    StateReady,
		services: make(map[qmi.ServiceID]*Service),
		sched:    sched,
		log:      log,
	}
	d.ctl = newService(d, qmi.ServiceCTL)
	d.ctl.state = serviceReady
	d.ctl.ClientID = 0
	d.services[qmi.ServiceCTL] = d.ctl
	return d
}

// OnError installs the callback invoked when the Frame Layer hits a
// transport error (malformed frame, read/write failure); the Device
// has already transitioned to StateError and cancelled every pending
// Request by the time it's called.
func (d *Device) OnError(fn func(error)) { d.onError = fn }

// Find returns the Service for id if the registry already holds one.
func (d *Device) Find(id qmi.ServiceID) (*Service, bool) {
	s, ok := d.services[id]
	return s, ok
}

// FindOrCreate returns the Service for id, creating it in IDLE state
// if this is the first reference.
func (d *Device) FindOrCreate(id qmi.ServiceID) *Service {
	if s, ok := d.services[id]; ok {
		return s
	}
	s := newService(d, id)
	d.services[id] = s
	return s
}

// CTL returns the always-present, always-READY control service.
func (d *Device) CTL() *Service { return d.ctl }

// Send stamps the client id and a freshly assigned transaction id into
// msg, appends a Request to svc's pending list (or queues it if svc is
// still allocating a client id), and writes the frame. cb fires
// exactly once: on matching response, on cancellation, or — for a
// non-CTL service's very first request — on allocation failure. The
// returned Request may be passed to Cancel by a caller whose own timer
// gave up on the response first.
func (d *Device) Send(svc *Service, msg *qmi.Message, cb Callback) *Request {
	req := &Request{svc: svc, msg: msg, cb: cb, pending: true}

	if d.state != StateReady {
		completeRequest(req, nil, fmt.Errorf("device: not ready (state=%d)", d.state))
		return req
	}

	if svc.ID != qmi.ServiceCTL && svc.state == serviceIdle {
		svc.state = serviceWaitCID
		d.allocateClientID(svc)
	}

	if svc.ID != qmi.ServiceCTL && svc.state == serviceWaitCID {
		svc.waiting = append(svc.waiting, req)
		return req
	}

	d.dispatchSend(svc, req)
	return req
}

func (d *Device) dispatchSend(svc *Service, req *Request) {
	tid, err := svc.nextTransactionID()
	if err != nil {
		completeRequest(req, nil, err)
		return
	}
	req.tid = tid
	req.msg.Service = svc.ID
	req.msg.ClientID = svc.ClientID
	req.msg.IsCTL = svc.ID == qmi.ServiceCTL
	req.msg.TID = tid

	svc.pending = append(svc.pending, req)
	if err := d.write(req.msg); err != nil {
		svc.removePending(req)
		d.transportError(err)
		return
	}
}

func (d *Device) allocateClientID(svc *Service) {
	tid, err := d.ctl.nextTransactionID()
	if err != nil {
		d.failAllocation(svc, err)
		return
	}
	req := &Request{svc: d.ctl, tid: tid, pending: true}
	req.cb = func(msg *qmi.Message, err error) {
		if err != nil {
			d.failAllocation(svc, err)
			return
		}
		cid, perr := codec.ParseCTLGetClientIDResponse(msg)
		if perr != nil {
			d.failAllocation(svc, perr)
			return
		}
		svc.ClientID = cid
		svc.state = serviceReady
		waiting := svc.waiting
		svc.waiting = nil
		for _, wreq := range waiting {
			d.dispatchSend(svc, wreq)
		}
	}
	allocMsg := codec.EncodeCTLGetClientID(uint8(tid), svc.ID)
	d.ctl.pending = append(d.ctl.pending, req)
	if werr := d.write(allocMsg); werr != nil {
		d.ctl.removePending(req)
		d.failAllocation(svc, werr)
	}
}

func (d *Device) failAllocation(svc *Service, err error) {
	svc.state = serviceIdle
	waiting := svc.waiting
	svc.waiting = nil
	for _, r := range waiting {
		completeRequest(r, nil, fmt.Errorf("device: client id allocation failed: %w", err))
	}
}

// write encodes msg (wrapping in MBIM first if in MBIM mode) and
// writes it as a single call; outgoing frames on one device are
// serialized here.
func (d *Device) write(msg *qmi.Message) error {
	buf, err := wire.EncodeQMUX(msg)
	if err != nil {
		return err
	}
	if d.Mode == ModeMBIM {
		d.mbimTID++
		buf = wire.WrapCommand(d.mbimTID, buf)
	}
	d.log.Debug("device: writing frame", "bytes", hex.Dump(buf))
	_, err = d.conn.Write(buf)
	return err
}

// Feed hands newly read bytes to the frame layer and dispatches every
// complete message in arrival order, retaining any partial suffix for
// the next call. The caller (the single-threaded runtime loop) is
// responsible for actually reading the device; Device never blocks.
func (d *Device) Feed(b []byte) {
	d.log.Debug("device: read frame", "bytes", hex.Dump(b))
	if d.Mode == ModeMBIM {
		d.feedMBIM(b)
		return
	}
	d.rd.Feed(b)
	msgs, err := d.rd.Drain()
	if err != nil {
		d.transportError(err)
		return
	}
	for _, m := range msgs {
		d.dispatch(m)
	}
}

func (d *Device) feedMBIM(b []byte) {
	d.mbimBuf = append(d.mbimBuf, b...)
	for {
		payload, consumed, isProxy, err := wire.UnwrapCommandDone(d.mbimBuf)
		if err == wire.ErrIncomplete {
			return
		}
		if isProxy {
			d.mbimBuf = d.mbimBuf[consumed:]
			continue
		}
		if err == wire.ErrNotQMIEnvelope {
			d.mbimBuf = d.mbimBuf[consumed:]
			continue
		}
		if err != nil {
			d.transportError(err)
			return
		}
		d.mbimBuf = d.mbimBuf[consumed:]
		msg, _, derr := wire.DecodeQMUX(payload)
		if derr != nil {
			d.transportError(derr)
			return
		}
		d.dispatch(msg)
	}
}

// dumpTLVs renders a message's TLV payloads as hex for debug logging,
// one space-separated run per TLV type.
func dumpTLVs(tlvs []qmi.TLV) string {
	var b strings.Builder
	for i, tlv := range tlvs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x:%s", tlv.Type, hex.Dump(tlv.Value))
	}
	return b.String()
}

func (d *Device) dispatch(msg *qmi.Message) {
	svc, ok := d.services[msg.Service]
	if !ok {
		d.log.Debug("device: dropping message for unknown service", "service", msg.Service, "tlvs", dumpTLVs(msg.TLVs))
		return
	}

	if msg.Indication {
		if codec.IsCTLSyncIndication(msg) {
			d.CancelAll(fmt.Errorf("device: reset (CTL sync indication)"))
		}
		for _, sub := range svc.indications {
			if sub.messageID == msg.MessageID {
				sub.cb(msg)
			}
		}
		return
	}

	if !msg.Response {
		d.log.Debug("device: dropping message with neither response nor indication flag set")
		return
	}

	req := svc.findPending(msg.TID)
	if req == nil {
		d.log.Debug("device: dropping unmatched response", "service", svc.ID, "tid", msg.TID, "tlvs", dumpTLVs(msg.TLVs))
		return
	}
	svc.removePending(req)
	completeRequest(req, msg, nil)
}

// CancelAll cancels every pending Request on every Service, used both
// for the CTL sync indication and for transport errors.
func (d *Device) CancelAll(err error) {
	for _, svc := range d.services {
		svc.cancelAll(err)
	}
}

func (d *Device) transportError(err error) {
	d.state = StateError
	d.CancelAll(err)
	if d.onError != nil {
		d.onError(err)
	}
}

// Close requests clean release of every allocated client id, then
// tears down the connection once only CTL remains or grace elapses,
// whichever comes first. done is invoked exactly once.
func (d *Device) Close(graceSeconds int, done func()) {
	if d.state == StateClosing || d.state == StateClosed {
		return
	}
	d.state = StateClosing

	remaining := 0
	for id, svc := range d.services {
		if id == qmi.ServiceCTL || !svc.Ready() || svc.keep {
			continue
		}
		remaining++
		d.releaseClientID(svc, func() {
			remaining--
			if remaining == 0 {
				d.finishClose(done)
			}
		})
	}
	if remaining == 0 {
		d.finishClose(done)
		return
	}
	d.sched.Add(d, func(int) {
		if d.state == StateClosing {
			d.finishClose(done)
		}
	}, graceSeconds, 0)
}

func (d *Device) releaseClientID(svc *Service, onDone func()) {
	tid, err := d.ctl.nextTransactionID()
	if err != nil {
		onDone()
		return
	}
	msg := codec.EncodeCTLReleaseClientID(uint8(tid), svc.ID, svc.ClientID)
	req := &Request{svc: d.ctl, tid: tid, pending: true}
	req.cb = func(_ *qmi.Message, _ error) {
		delete(d.services, svc.ID)
		onDone()
	}
	d.ctl.pending = append(d.ctl.pending, req)
	if werr := d.write(msg); werr != nil {
		d.ctl.removePending(req)
		onDone()
	}
}

func (d *Device) finishClose(done func()) {
	if d.state == StateClosed {
		return
	}
	d.state = StateClosed
	d.sched.CancelOwner(d)
	_ = d.conn.Close()
	if done != nil {
		done()
	}
}
