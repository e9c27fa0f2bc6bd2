/*
 * uqmid - Service registry entries.
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

package device

import (
	"fmt"

	"github.com/openwrt/uqmid/internal/qmi"
)

// serviceState tracks whether a service has its client id yet.
type serviceState int

const (
	serviceIdle serviceState = iota
	serviceWaitCID
	serviceReady
)

// Callback is invoked exactly once when a Request completes: on a
// matched response, on cancellation (msg nil, err wraps ErrCancelled),
// or on client-id allocation failure.
type Callback func(msg *qmi.Message, err error)

// Request is one in-flight transaction on a Service.
type Request struct {
	svc      *Service
	msg      *qmi.Message
	tid      uint16
	cb       Callback
	pending  bool
	complete bool
}

// Service is the per-(device, QMI service id) registry entry: client
// id, tid generator, pending requests and indication subscriptions.
type Service struct {
	ID       qmi.ServiceID
	ClientID byte
	state    serviceState
	keep     bool // external client id: Device close must not release it

	// VersionMajor/VersionMinor are what CTL Get-Version-Info reported
	// for this service, recorded by the Modem FSM's GET_VERSION state.
	VersionMajor uint16
	VersionMinor uint16

	nextTID  uint32
	tidWidth uint32 // 256 for CTL (8-bit), 65536 for everyone else (16-bit)

	pending     []*Request
	waiting     []*Request // queued while state == serviceWaitCID
	indications []indicationSub

	dev *Device
}

type indicationSub struct {
	messageID uint16
	cb        func(*qmi.Message)
}

func newService(dev *Device, id qmi.ServiceID) *Service {
	width := uint32(65536)
	if id == qmi.ServiceCTL {
		width = 256
	}
	return &Service{ID: id, dev: dev, tidWidth: width, state: serviceIdle}
}

// Ready reports whether the service has an allocated client id (always
// true for CTL).
func (s *Service) Ready() bool {
	return s.ID == qmi.ServiceCTL || s.state == serviceReady
}

// Subscribe registers cb for every indication on this service carrying
// messageID. Multiple subscriptions for the same id are all invoked.
func (s *Service) Subscribe(messageID uint16, cb func(*qmi.Message)) {
	s.indications = append(s.indications, indicationSub{messageID: messageID, cb: cb})
}

// nextTransactionID advances the tid counter, skipping 0 and wrapping
// modulo the service's tid width. A tid already carried by a pending
// request is never handed out twice.
func (s *Service) nextTransactionID() (uint16, error) {
	for i := uint32(0); i < s.tidWidth; i++ {
		s.nextTID = (s.nextTID + 1) % s.tidWidth
		if s.nextTID == 0 {
			continue
		}
		tid := uint16(s.nextTID)
		if !s.tidInUse(tid) {
			return tid, nil
		}
	}
	return 0, errTIDExhausted
}

func (s *Service) tidInUse(tid uint16) bool {
	for _, r := range s.pending {
		if r.tid == tid {
			return true
		}
	}
	return false
}

// Cancel completes r with a nil message and ErrCancelled, removing it
// from its service's pending or waiting list. Cancellation is
// synchronous: the callback has already fired by the time Cancel
// returns. A no-op on an already-completed request.
func (r *Request) Cancel() {
	if r.complete {
		return
	}
	r.svc.removePending(r)
	for i, w := range r.svc.waiting {
		if w == r {
			r.svc.waiting = append(r.svc.waiting[:i], r.svc.waiting[i+1:]...)
			break
		}
	}
	completeRequest(r, nil, ErrCancelled)
}

// removePending removes r from the pending list; safe to call from
// within a callback invoked during dispatch, since the dispatch loop
// removes an entry before invoking its callback (see Device.dispatch).
func (s *Service) removePending(r *Request) {
	for i, p := range s.pending {
		if p == r {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Service) findPending(tid uint16) *Request {
	for _, r := range s.pending {
		if r.tid == tid {
			return r
		}
	}
	return nil
}

// cancelAll completes every pending and queued request on s with err,
// synchronously: every callback has been invoked by the time cancelAll
// returns.
func (s *Service) cancelAll(err error) {
	cancelErr := fmt.Errorf("%w: %w", ErrCancelled, err)
	pending := s.pending
	s.pending = nil
	for _, r := range pending {
		completeRequest(r, nil, cancelErr)
	}
	waiting := s.waiting
	s.waiting = nil
	for _, r := range waiting {
		completeRequest(r, nil, cancelErr)
	}
}

func completeRequest(r *Request, msg *qmi.Message, err error) {
	if r.complete {
		return
	}
	r.pending = false
	r.complete = true
	if r.cb != nil {
		r.cb(msg, err)
	}
}
