/*
 * uqmid - SIM state machine.
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

// Package sim implements the SIM FSM: discovery of the SIM card over
// the QMI UIM service, PIN/PUK unlock, and IMSI retrieval. It runs as
// a child of the Modem FSM and reports back
// through the Parent interface rather than importing the modem
// package, keeping the parent/child relationship a plain Go interface
// instead of a two-way package dependency.
package sim

import (
	"log/slog"

	"github.com/openwrt/uqmid/internal/bcd"
	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/device"
	"github.com/openwrt/uqmid/internal/qmi"
	"github.com/openwrt/uqmid/internal/timer"
)

// State is the SIM FSM's own state. WAIT_UIM_PRESENT is the entry
// state (the UIM service may still be allocating its client id);
// REMOVED is reached when a card-removal indication arrives after
// READY.
type State int

const (
	StateWaitUIMPresent State = iota
	StateGetInfo
	StateCHVPin
	StateCHVPuk
	StateReady
	StateFailPinRequired
	StateFailPukRequired
	StateFailNoSIMPresent
	StateFailed
	StateRemoved
	StateDestroy
)

func (s State) String() string {
	switch s {
	case StateWaitUIMPresent:
		return "WAIT_UIM_PRESENT"
	case StateGetInfo:
		return "GET_INFO"
	case StateCHVPin:
		return "CHV_PIN"
	case StateCHVPuk:
		return "CHV_PUK"
	case StateReady:
		return "READY"
	case StateFailPinRequired:
		return "FAIL_PIN_REQUIRED"
	case StateFailPukRequired:
		return "FAIL_PUK_REQUIRED"
	case StateFailNoSIMPresent:
		return "FAIL_NO_SIM_PRESENT"
	case StateFailed:
		return "FAILED"
	case StateRemoved:
		return "REMOVED"
	case StateDestroy:
		return "DESTROY"
	default:
		return "UNKNOWN"
	}
}

// SIMState is the Modem aggregate's SIM substate.
type SIMState int

const (
	SIMUnknown SIMState = iota
	SIMPinRequired
	SIMPukRequired
	SIMReady
	SIMBlocked
)

// Config carries what the SIM FSM needs from the Modem's configuration:
// the PIN/PUK to try, and whether this card uses a universal PIN in
// place of PIN1.
type Config struct {
	PIN              string
	PUK              string
	UseUPIN          bool
	UPinReplacesPIN1 bool
}

// Parent is the Modem FSM's side of the child/parent relationship:
// card ready, or terminated with a reason.
type Parent interface {
	OnSIMReady(iccid, imsi string)
	OnSIMTerminated(state SIMState, reason string)
}

// minRetriesToAttempt guards automatic unlock attempts: a single
// remaining retry is never spent automatically, to avoid permanently
// blocking a PIN/PUK on a bad stored credential.
const minRetriesToAttempt = 2

// FSM is one SIM FSM instance, owned by a Modem FSM.
type FSM struct {
	dev    *device.Device
	sched  *timer.Scheduler
	parent Parent
	cfg    Config
	log    *slog.Logger

	state State

	iccid string
	imsi  string

	pin1State   codec.PinState
	pin1Retries int
	puk1Retries int

	attemptedPin bool
	attemptedPuk bool

	subscribedRemoval bool
}

// New creates a SIM FSM bound to dev; call Start to begin discovery.
func New(dev *device.Device, sched *timer.Scheduler, parent Parent, cfg Config, log *slog.Logger) *FSM {
	if log == nil {
		log = slog.Default()
	}
	return &FSM{dev: dev, sched: sched, parent: parent, cfg: cfg, log: log}
}

func (f *FSM) State() State { return f.state }

func (f *FSM) uim() *device.Service { return f.dev.FindOrCreate(qmi.ServiceUIM) }
func (f *FSM) dms() *device.Service { return f.dev.FindOrCreate(qmi.ServiceDMS) }

// Start begins SIM discovery, entering WAIT_UIM_PRESENT.
func (f *FSM) Start() {
	f.transition(StateWaitUIMPresent)
}

// Destroy tears the FSM down from any state.
func (f *FSM) Destroy() {
	f.transition(StateDestroy)
}

func (f *FSM) transition(s State) {
	f.state = s
	f.log.Debug("sim fsm transition", "state", s)
	switch s {
	case StateWaitUIMPresent:
		f.enterWaitUIMPresent()
	case StateGetInfo:
		f.enterGetInfo()
	case StateCHVPin:
		f.enterCHVPin()
	case StateCHVPuk:
		f.enterCHVPuk()
	case StateReady:
		f.enterReady()
	case StateFailPinRequired, StateFailPukRequired, StateFailNoSIMPresent, StateFailed:
		f.enterFail(s)
	case StateRemoved:
		f.enterRemoved()
	case StateDestroy:
		f.sched.CancelOwner(f)
	}
}

// enterWaitUIMPresent issues Get-Slot-Status; Device.Send transparently
// queues it behind CTL client-id allocation if the UIM service isn't
// READY yet, which is exactly the condition this state is named for.
// If the UIM service reports an error opening at all, fall back to
// DMS Get-IMSI; some modems expose no UIM service.
func (f *FSM) enterWaitUIMPresent() {
	tid := uint16(0)
	req := codec.EncodeUIMGetSlotStatus(0, tid)
	f.dev.Send(f.uim(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.fallbackToDMSIMSI()
			return
		}
		slots, perr := codec.ParseUIMGetSlotStatusResponse(msg)
		if perr != nil {
			f.fallbackToDMSIMSI()
			return
		}
		found := false
		for _, s := range slots {
			if s.CardState == codec.CardStatePresent && s.SlotState == codec.SlotStateActive {
				f.iccid = s.ICCID
				found = true
				break
			}
		}
		if !found {
			f.transition(StateFailNoSIMPresent)
			return
		}
		f.transition(StateGetInfo)
	})
}

func (f *FSM) fallbackToDMSIMSI() {
	req := codec.EncodeDMSGetIMSI(0, 0)
	f.dev.Send(f.dms(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		imsi, perr := codec.ParseDMSGetIMSIResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		f.imsi = imsi
		f.pin1State = codec.PinStateDisabled
		f.transition(StateReady)
	})
}

// enterGetInfo issues Get-Card-Status to pick the first usable
// application and its PIN1/UPIN state and retry counters. A PIN that is
// enabled-not-verified or blocked goes straight to the PIN/PUK states;
// otherwise it reads EF.IMSI and decodes it via internal/bcd.
func (f *FSM) enterGetInfo() {
	req := codec.EncodeUIMGetCardStatus(0, 0)
	f.dev.Send(f.uim(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		cards, perr := codec.ParseUIMGetCardStatusResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		app, ok := firstUsableApplication(cards)
		if !ok {
			f.transition(StateFailNoSIMPresent)
			return
		}
		f.pin1State = app.Pin1State
		f.pin1Retries = app.Pin1Retries
		f.puk1Retries = app.Puk1Retries
		if f.cfg.UPinReplacesPIN1 {
			f.pin1State = app.UPinState
			f.pin1Retries = app.UPinRetries
			f.puk1Retries = app.UPukRetries
		}
		switch f.pin1State {
		case codec.PinStateEnabledNotVerified, codec.PinStateBlocked, codec.PinStatePermanentlyBlocked:
			f.decidePinState()
		default:
			f.readIMSI()
		}
	})
}

func firstUsableApplication(cards []codec.Card) (codec.Application, bool) {
	for _, c := range cards {
		if c.CardState != codec.CardStatePresent {
			continue
		}
		for _, a := range c.Applications {
			if a.State != codec.AppStateUnknown {
				return a, true
			}
		}
	}
	return codec.Application{}, false
}

func (f *FSM) readIMSI() {
	req := codec.EncodeUIMReadTransparentEFIMSI(0, 0)
	f.dev.Send(f.uim(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		raw, perr := codec.ParseUIMReadTransparentResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		imsi, derr := bcd.DecodeIMSI(raw)
		if derr != nil {
			f.transition(StateFailed)
			return
		}
		f.imsi = imsi
		f.decidePinState()
	})
}

func (f *FSM) decidePinState() {
	switch f.pin1State {
	case codec.PinStateEnabledNotVerified:
		f.transition(StateCHVPin)
	case codec.PinStateBlocked:
		f.transition(StateCHVPuk)
	case codec.PinStatePermanentlyBlocked:
		f.transition(StateFailPukRequired)
	default:
		f.transition(StateReady)
	}
}

// enterCHVPin verifies the PIN if there's a real chance of success and
// the caller supplied one.
func (f *FSM) enterCHVPin() {
	if f.pin1Retries < minRetriesToAttempt || f.attemptedPin || f.cfg.PIN == "" {
		f.transition(StateFailPinRequired)
		return
	}
	f.attemptedPin = true
	pinID := codec.PinIDPIN1
	if f.cfg.UseUPIN {
		pinID = codec.PinIDUPIN
	}
	req := codec.EncodeUIMVerifyPIN(0, 0, pinID, f.cfg.PIN)
	f.dev.Send(f.uim(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		if perr := codec.ParseUIMVerifyPINResponse(msg); perr != nil {
			f.transition(StateFailPinRequired)
			return
		}
		f.transition(StateGetInfo)
	})
}

// enterCHVPuk unblocks with the PUK and a new PIN, same guard pattern
// as enterCHVPin.
func (f *FSM) enterCHVPuk() {
	if f.puk1Retries < minRetriesToAttempt || f.attemptedPuk || f.cfg.PUK == "" || f.cfg.PIN == "" {
		f.transition(StateFailPukRequired)
		return
	}
	f.attemptedPuk = true
	pinID := codec.PinIDPIN1
	if f.cfg.UseUPIN {
		pinID = codec.PinIDUPIN
	}
	req := codec.EncodeUIMUnblockPIN(0, 0, pinID, f.cfg.PUK, f.cfg.PIN)
	f.dev.Send(f.uim(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		if perr := codec.ParseUIMUnblockPINResponse(msg); perr != nil {
			f.transition(StateFailPukRequired)
			return
		}
		f.transition(StateGetInfo)
	})
}

func (f *FSM) enterReady() {
	f.subscribeCardRemoval()
	f.parent.OnSIMReady(f.iccid, f.imsi)
}

// subscribeCardRemoval arms the physical-slot-status-change indication
// once the card is READY, so a later card-absent report drives the
// supplemented READY -> REMOVED transition instead of going unnoticed
// until the next request happens to fail.
func (f *FSM) subscribeCardRemoval() {
	if f.subscribedRemoval {
		return
	}
	f.subscribedRemoval = true
	f.uim().Subscribe(codec.MsgUIMStatusChangeInd, func(msg *qmi.Message) {
		slots, err := codec.ParseUIMStatusChangeIndication(msg)
		if err != nil {
			return
		}
		for _, s := range slots {
			if s.CardState == codec.CardStateAbsent {
				f.NotifyCardRemoved()
				return
			}
		}
	})
	f.dev.Send(f.uim(), codec.EncodeUIMRegisterEvents(0, 0), func(_ *qmi.Message, err error) {
		if err != nil {
			f.log.Debug("sim fsm: register UIM card-status events failed", "error", err)
		}
	})
}

func (f *FSM) enterFail(s State) {
	reason := s.String()
	var simState SIMState
	switch s {
	case StateFailPinRequired:
		simState = SIMPinRequired
	case StateFailPukRequired:
		simState = SIMPukRequired
	default:
		simState = SIMUnknown
	}
	f.parent.OnSIMTerminated(simState, reason)
}

func (f *FSM) enterRemoved() {
	f.parent.OnSIMTerminated(SIMUnknown, "REMOVED")
}

// NotifyCardRemoved signals that the card is gone while the SIM FSM is
// READY. Called by the physical-slot-status-change indication
// subscribeCardRemoval arms.
func (f *FSM) NotifyCardRemoved() {
	if f.state == StateReady {
		f.transition(StateRemoved)
	}
}
