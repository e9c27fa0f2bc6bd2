/*
 * uqmid - Modem state machine.
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

// Package modem implements the Modem FSM: the top-level state machine
// that drives one QMI modem from RESYNC through registration to a live
// data bearer. It owns the modem's Device and spawns a SIM FSM child,
// implementing sim.Parent to learn when the card is ready or gives up.
package modem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openwrt/uqmid/internal/codec"
	"github.com/openwrt/uqmid/internal/device"
	"github.com/openwrt/uqmid/internal/fsm/sim"
	"github.com/openwrt/uqmid/internal/kernel"
	"github.com/openwrt/uqmid/internal/qmi"
	"github.com/openwrt/uqmid/internal/timer"
)

// State is the Modem FSM's bring-up state.
type State int

const (
	StateIdle State = iota
	StateResync
	StateGetVersion
	StateGetModel
	StatePoweroff
	StateWaitUIM
	StateConfigureModem
	StateConfigureKernel
	StatePoweron
	StateNetsearch
	StateRegistered
	StateStartIface
	StateLive
	StateFailed
	StateDestroy
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateResync:
		return "RESYNC"
	case StateGetVersion:
		return "GET_VERSION"
	case StateGetModel:
		return "GET_MODEL"
	case StatePoweroff:
		return "POWEROFF"
	case StateWaitUIM:
		return "WAIT_UIM"
	case StateConfigureModem:
		return "CONFIGURE_MODEM"
	case StateConfigureKernel:
		return "CONFIGURE_KERNEL"
	case StatePoweron:
		return "POWERON"
	case StateNetsearch:
		return "NETSEARCH"
	case StateRegistered:
		return "REGISTERED"
	case StateStartIface:
		return "START_IFACE"
	case StateLive:
		return "LIVE"
	case StateFailed:
		return "FAILED"
	case StateDestroy:
		return "DESTROY"
	default:
		return "UNKNOWN"
	}
}

// getModelSubStep walks DMS Get-Model, Get-Manufacturer, Get-Revision,
// then Get-IMEI, in that order.
type getModelSubStep int

const (
	subGetModel getModelSubStep = iota
	subGetManufacturer
	subGetRevision
	subGetIMEI
)

// maxStartNetworkRetries caps Start-Network's CALL_FAILED retry loop.
const maxStartNetworkRetries = 3

// netsearchPollSeconds is how often NETSEARCH re-polls Get-Serving-System
// (or re-issues Force-Network-Search) while unregistered/searching.
const netsearchPollSeconds = 5

// resyncTimeoutSeconds bounds how long RESYNC waits for the CTL sync
// response before giving up on the device.
const resyncTimeoutSeconds = 5

// registeredSettleSeconds is how long REGISTERED waits before advancing
// to START_IFACE.
const registeredSettleSeconds = 5

// closeGraceSeconds is how long DESTROY gives the Device to release its
// client ids cleanly before forcing the connection closed.
const closeGraceSeconds = 5

// Config is what the Lifecycle façade's configure_modem supplies.
type Config struct {
	APN               string
	Username          string
	Password          string
	PIN               string
	PUK               string
	Roaming           bool
	PDPType           codec.PDPType
	UseUPIN           bool
	UPinReplacesPIN1  bool
	SkipConfiguration bool
}

// Identity aggregates what DMS and UIM report about a modem, plus the
// USB class subsystem the kernel adapter found its netdev under.
type Identity struct {
	Name          string
	DevicePath    string
	IMEI          string
	Manufacturer  string
	Model         string
	Revision      string
	IMSI          string
	ICCID         string
	SubsystemName string
}

// Registration is the serving-system state NAS last reported. MNCLen
// records whether the MNC is 2 or 3 digits; some operators use 3 and
// display logic must not truncate them.
type Registration struct {
	State      codec.RegState
	RAT        codec.RAT
	MCC        string
	MNC        string
	MNCLen     int
	CSAttached bool
	PSAttached bool
	LastError  string
}

// Bearer is the active packet data session, populated once LIVE.
type Bearer struct {
	PacketDataHandle uint32
	PDPType          codec.PDPType
	Settings         codec.Settings
}

// Parent is the owner's view of a Modem FSM: a hook invoked on every
// state transition, for status fan-out to an external bus.
type Parent interface {
	OnModemStateChanged(name string, state State)
}

// FSM is one Modem FSM instance, owning its Device and its SIM FSM
// child.
type FSM struct {
	dev     *device.Device
	sched   *timer.Scheduler
	kernel  kernel.Adapter
	parent  Parent
	log     *slog.Logger

	state State

	identity     Identity
	config       Config
	configured   bool
	registration Registration
	bearer       Bearer
	netdev       kernel.Device

	simFSM   *sim.FSM
	simReady bool

	modelStep getModelSubStep

	lastOperatingMode codec.OperatingMode

	profileIndex uint8
	startRetries int
}

// New creates a Modem FSM bound to dev; call Start to begin bring-up.
func New(name string, dev *device.Device, sched *timer.Scheduler, ka kernel.Adapter, parent Parent, log *slog.Logger) *FSM {
	if log == nil {
		log = slog.Default()
	}
	return &FSM{
		dev:    dev,
		sched:  sched,
		kernel: ka,
		parent: parent,
		log:    log,
		identity: Identity{
			Name:       name,
			DevicePath: dev.Path,
		},
	}
}

func (f *FSM) State() State                { return f.state }
func (f *FSM) Identity() Identity          { return f.identity }
func (f *FSM) Registration() Registration  { return f.registration }
func (f *FSM) Bearer() Bearer              { return f.bearer }
func (f *FSM) OperatingMode() codec.OperatingMode { return f.lastOperatingMode }
func (f *FSM) Config() Config              { return f.config }

func (f *FSM) ctl() *device.Service { return f.dev.CTL() }
func (f *FSM) dms() *device.Service { return f.dev.FindOrCreate(qmi.ServiceDMS) }
func (f *FSM) nas() *device.Service { return f.dev.FindOrCreate(qmi.ServiceNAS) }
func (f *FSM) wds() *device.Service { return f.dev.FindOrCreate(qmi.ServiceWDS) }
func (f *FSM) wda() *device.Service { return f.dev.FindOrCreate(qmi.ServiceWDA) }

// Start begins bring-up, entering RESYNC.
func (f *FSM) Start() {
	f.transition(StateResync)
}

// Configure applies cfg (the Lifecycle façade's configure_modem) and, if
// POWEROFF is already waiting on it, advances to WAIT_UIM.
func (f *FSM) Configure(cfg Config) {
	f.config = cfg
	f.configured = true
	if f.state == StatePoweroff && f.lastOperatingMode == codec.ModeLowPower {
		f.transition(StateWaitUIM)
	}
}

// Destroy tears the Modem (and its SIM child) down; accepted from any
// state.
func (f *FSM) Destroy() {
	f.transition(StateDestroy)
}

func (f *FSM) transition(s State) {
	f.state = s
	f.log.Debug("modem fsm transition", "modem", f.identity.Name, "state", s)
	if f.parent != nil {
		f.parent.OnModemStateChanged(f.identity.Name, s)
	}
	switch s {
	case StateResync:
		f.enterResync()
	case StateGetVersion:
		f.enterGetVersion()
	case StateGetModel:
		f.modelStep = subGetModel
		f.enterGetModel()
	case StatePoweroff:
		f.enterPoweroff()
	case StateWaitUIM:
		f.enterWaitUIM()
	case StateConfigureModem:
		f.enterConfigureModem()
	case StateConfigureKernel:
		f.enterConfigureKernel()
	case StatePoweron:
		f.enterPoweron()
	case StateNetsearch:
		f.enterNetsearch()
	case StateRegistered:
		f.enterRegistered()
	case StateStartIface:
		f.startRetries = 0
		f.enterStartIface()
	case StateLive:
		f.enterLive()
	case StateDestroy:
		f.enterDestroy()
	}
}

func (f *FSM) enterResync() {
	req := f.dev.Send(f.ctl(), codec.EncodeCTLSync(0), func(_ *qmi.Message, err error) {
		if f.state != StateResync {
			return
		}
		f.sched.Cancel(f, 0)
		if err != nil {
			f.registration.LastError = err.Error()
			f.transition(StateFailed)
			return
		}
		f.transition(StateGetVersion)
	})
	f.sched.Add(f, func(int) {
		if f.state == StateResync {
			f.registration.LastError = "resync timed out"
			f.transition(StateFailed)
			req.Cancel()
		}
	}, resyncTimeoutSeconds, 0)
}

func (f *FSM) enterGetVersion() {
	req := codec.EncodeCTLGetVersionInfo(0)
	f.dev.Send(f.ctl(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		versions, perr := codec.ParseCTLGetVersionInfoResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		for _, v := range versions {
			svc := f.dev.FindOrCreate(v.Service)
			svc.VersionMajor = v.Major
			svc.VersionMinor = v.Minor
		}
		f.simFSM = sim.New(f.dev, f.sched, f, sim.Config{
			PIN:              f.config.PIN,
			PUK:              f.config.PUK,
			UseUPIN:          f.config.UseUPIN,
			UPinReplacesPIN1: f.config.UPinReplacesPIN1,
		}, f.log)
		f.simFSM.Start()
		f.transition(StateGetModel)
	})
}

func (f *FSM) enterGetModel() {
	switch f.modelStep {
	case subGetModel:
		f.dev.Send(f.dms(), codec.EncodeDMSGetModel(0, 0), func(msg *qmi.Message, err error) {
			if err == nil {
				f.identity.Model, _ = codec.ParseDMSGetModelResponse(msg)
			}
			f.modelStep = subGetManufacturer
			f.enterGetModel()
		})
	case subGetManufacturer:
		f.dev.Send(f.dms(), codec.EncodeDMSGetManufacturer(0, 0), func(msg *qmi.Message, err error) {
			if err == nil {
				f.identity.Manufacturer, _ = codec.ParseDMSGetManufacturerResponse(msg)
			}
			f.modelStep = subGetRevision
			f.enterGetModel()
		})
	case subGetRevision:
		f.dev.Send(f.dms(), codec.EncodeDMSGetRevision(0, 0), func(msg *qmi.Message, err error) {
			if err == nil {
				f.identity.Revision, _ = codec.ParseDMSGetRevisionResponse(msg)
			}
			f.modelStep = subGetIMEI
			f.enterGetModel()
		})
	case subGetIMEI:
		f.dev.Send(f.dms(), codec.EncodeDMSGetIDs(0, 0), func(msg *qmi.Message, err error) {
			if err == nil {
				f.identity.IMEI, _ = codec.ParseDMSGetIDsResponse(msg)
			}
			f.transition(StatePoweroff)
		})
	}
}

func (f *FSM) enterPoweroff() {
	f.dev.Send(f.dms(), codec.EncodeDMSGetOperatingMode(0, 0), func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		mode, perr := codec.ParseDMSGetOperatingModeResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		f.lastOperatingMode = mode
		switch mode {
		case codec.ModeOnline:
			f.dev.Send(f.dms(), codec.EncodeDMSSetOperatingMode(0, 0, codec.ModeLowPower), func(msg *qmi.Message, err error) {
				if err != nil {
					f.transition(StateFailed)
					return
				}
				if perr := codec.ParseDMSSetOperatingModeResponse(msg); perr != nil {
					f.registration.LastError = perr.Error()
					f.transition(StateFailed)
					return
				}
				f.enterPoweroff()
			})
		case codec.ModeLowPower:
			if f.configured {
				f.transition(StateWaitUIM)
			}
			// else: wait for Configure() to observe lastOperatingMode
			// == LOW_POWER and advance us.
		default:
			f.registration.LastError = fmt.Sprintf("unexpected operating mode %s during POWEROFF", mode)
			f.transition(StateFailed)
		}
	})
}

func (f *FSM) enterWaitUIM() {
	if f.simReady {
		f.transition(StateConfigureModem)
	}
	// else: wait for OnSIMReady.
}

func (f *FSM) enterConfigureModem() {
	f.dev.Send(f.wds(), codec.EncodeWDSGetProfileList(0, 0), func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		profiles, perr := codec.ParseWDSGetProfileListResponse(msg)
		if perr != nil || len(profiles) == 0 {
			f.transition(StateFailed)
			return
		}
		f.profileIndex = profiles[0].Index
		modReq := codec.ModifyProfileRequest{
			Index:           f.profileIndex,
			APN:             f.config.APN,
			Username:        f.config.Username,
			Password:        f.config.Password,
			PDPType:         f.config.PDPType,
			DisallowRoaming: !f.config.Roaming,
		}
		f.dev.Send(f.wds(), codec.EncodeWDSModifyProfile(0, 0, modReq), func(msg *qmi.Message, err error) {
			if err != nil {
				f.transition(StateFailed)
				return
			}
			if perr := codec.ParseWDSModifyProfileResponse(msg); perr != nil {
				f.registration.LastError = perr.Error()
				f.transition(StateFailed)
				return
			}
			f.transition(StateConfigureKernel)
		})
	})
}

func (f *FSM) enterConfigureKernel() {
	if f.config.SkipConfiguration {
		f.setDataFormat()
		return
	}
	dev, err := f.kernel.RefreshDevice(context.Background(), f.identity.DevicePath)
	if err != nil {
		f.registration.LastError = err.Error()
		f.transition(StateFailed)
		return
	}
	f.netdev = dev
	f.identity.SubsystemName = dev.Subsystem

	if err := f.kernel.IfUpDown(dev.Name, false); err != nil {
		f.transition(StateFailed)
		return
	}
	if err := f.kernel.SetConfiguration(dev.SysfsPath, kernel.LinkConfig{RawIP: false, PassThrough: false}); err != nil {
		f.transition(StateFailed)
		return
	}
	if err := f.kernel.SetMTU(dev.Name, 1500); err != nil {
		f.transition(StateFailed)
		return
	}
	if err := f.kernel.SetConfiguration(dev.SysfsPath, kernel.LinkConfig{RawIP: true, PassThrough: false}); err != nil {
		f.transition(StateFailed)
		return
	}
	if err := f.kernel.IfUpDown(dev.Name, true); err != nil {
		f.transition(StateFailed)
		return
	}
	f.setDataFormat()
}

func (f *FSM) setDataFormat() {
	req := codec.EncodeWDASetDataFormat(0, 0, codec.LinkLayerRawIP, codec.AggregationDisabled)
	f.dev.Send(f.wda(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		if perr := codec.ParseWDASetDataFormatResponse(msg); perr != nil {
			f.registration.LastError = perr.Error()
			f.transition(StateFailed)
			return
		}
		f.transition(StatePoweron)
	})
}

func (f *FSM) enterPoweron() {
	f.dev.Send(f.dms(), codec.EncodeDMSGetOperatingMode(0, 0), func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		mode, perr := codec.ParseDMSGetOperatingModeResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		f.lastOperatingMode = mode
		switch mode {
		case codec.ModeLowPower, codec.ModeOffline:
			f.dev.Send(f.dms(), codec.EncodeDMSSetOperatingMode(0, 0, codec.ModeOnline), func(msg *qmi.Message, err error) {
				if err != nil {
					f.transition(StateFailed)
					return
				}
				if perr := codec.ParseDMSSetOperatingModeResponse(msg); perr != nil {
					f.registration.LastError = perr.Error()
					f.transition(StateFailed)
					return
				}
				f.enterPoweron()
			})
		case codec.ModeOnline:
			f.transition(StateNetsearch)
		default:
			f.registration.LastError = fmt.Sprintf("unexpected operating mode %s during POWERON", mode)
			f.transition(StateFailed)
		}
	})
}

func (f *FSM) enterNetsearch() {
	f.dev.Send(f.nas(), codec.EncodeNASRegisterIndications(0, 0), func(msg *qmi.Message, err error) {
		if err != nil {
			f.transition(StateFailed)
			return
		}
		if perr := codec.ParseNASRegisterIndicationsResponse(msg); perr != nil {
			f.registration.LastError = perr.Error()
			f.transition(StateFailed)
			return
		}
		f.pollServingSystem()
	})
}

func (f *FSM) pollServingSystem() {
	if f.state != StateNetsearch {
		return
	}
	f.dev.Send(f.nas(), codec.EncodeNASGetServingSystem(0, 0), func(msg *qmi.Message, err error) {
		if f.state != StateNetsearch {
			return
		}
		if err != nil {
			f.transition(StateFailed)
			return
		}
		ss, perr := codec.ParseNASGetServingSystemResponse(msg)
		if perr != nil {
			f.transition(StateFailed)
			return
		}
		f.registration.State = ss.State
		f.registration.RAT = ss.RAT
		f.registration.MCC = ss.MCC
		f.registration.MNC = ss.MNC
		f.registration.MNCLen = ss.MNCLen
		f.registration.CSAttached = ss.CSAttached
		f.registration.PSAttached = ss.PSAttached

		switch ss.State {
		case codec.RegStateRegistered:
			f.transition(StateRegistered)
		case codec.RegStateNotRegistered, codec.RegStateRegistrationDenied:
			f.dev.Send(f.nas(), codec.EncodeNASForceNetworkSearch(0, 0), func(_ *qmi.Message, _ error) {
				f.scheduleNetsearchPoll()
			})
		default: // searching
			f.scheduleNetsearchPoll()
		}
	})
}

func (f *FSM) scheduleNetsearchPoll() {
	f.sched.Add(f, func(int) { f.pollServingSystem() }, netsearchPollSeconds, 0)
}

func (f *FSM) enterRegistered() {
	f.sched.Add(f, func(int) {
		if f.state == StateRegistered {
			f.transition(StateStartIface)
		}
	}, registeredSettleSeconds, 0)
}

func (f *FSM) enterStartIface() {
	family := codec.IPFamilyIPv4
	if f.config.PDPType == codec.PDPTypeIPv6 {
		family = codec.IPFamilyIPv6
	}
	req := codec.EncodeWDSStartNetwork(0, 0, f.profileIndex, family, false)
	f.dev.Send(f.wds(), req, func(msg *qmi.Message, err error) {
		if err != nil {
			f.registration.LastError = err.Error()
			f.transition(StatePoweroff)
			return
		}
		handle, perr := codec.ParseWDSStartNetworkResponse(msg)
		if perr == nil {
			f.bearer.PacketDataHandle = handle
			f.bearer.PDPType = f.config.PDPType
			f.transition(StateLive)
			return
		}
		proto, ok := perr.(*codec.ProtocolError)
		if !ok {
			f.registration.LastError = perr.Error()
			f.transition(StatePoweroff)
			return
		}
		switch proto.Code {
		case qmi.ErrCallFailed:
			f.startRetries++
			if f.startRetries >= maxStartNetworkRetries {
				f.registration.LastError = "start-network: call failed after retries"
				f.transition(StateFailed)
				return
			}
			f.sched.Add(f, func(int) { f.enterStartIface() }, netsearchPollSeconds, 0)
		case qmi.ErrNoEffect:
			stopReq := codec.EncodeWDSStopNetwork(0, 0, codec.StopNetworkDisableHandle, true)
			f.dev.Send(f.wds(), stopReq, func(_ *qmi.Message, _ error) {
				f.enterStartIface()
			})
		default:
			f.registration.LastError = proto.Error()
			f.transition(StatePoweroff)
		}
	})
}

func (f *FSM) enterLive() {
	f.dev.Send(f.wds(), codec.EncodeWDSGetCurrentSettings(0, 0), func(msg *qmi.Message, err error) {
		if err != nil {
			return
		}
		settings, perr := codec.ParseWDSGetCurrentSettingsResponse(msg)
		if perr != nil {
			return
		}
		f.bearer.Settings = settings
	})
}

func (f *FSM) enterDestroy() {
	f.sched.CancelOwner(f)
	if f.simFSM != nil {
		f.simFSM.Destroy()
	}
	f.dev.Close(closeGraceSeconds, nil)
}

// OnSIMReady implements sim.Parent: records the card identity and
// advances WAIT_UIM if that's where we're waiting.
func (f *FSM) OnSIMReady(iccid, imsi string) {
	f.identity.ICCID = iccid
	f.identity.IMSI = imsi
	f.simReady = true
	if f.state == StateWaitUIM {
		f.transition(StateConfigureModem)
	}
}

// OnSIMTerminated implements sim.Parent: a SIM failure fails the whole
// modem unless it is already LIVE, FAILED or being destroyed.
func (f *FSM) OnSIMTerminated(_ sim.SIMState, reason string) {
	f.registration.LastError = "sim: " + reason
	if f.state != StateLive && f.state != StateDestroy && f.state != StateFailed {
		f.transition(StateFailed)
	}
}
