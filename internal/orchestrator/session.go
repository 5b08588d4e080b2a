// Package orchestrator drives the session negotiation state machine: create
// session, start session, exchange OFFER/RESULT/ACCEPT, probe candidates,
// surface bound UDP sockets (§4.5).
package orchestrator

import (
	"fmt"
	"net"
	"sync"

	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/reachability"
	"github.com/sebas/holepunch/internal/transport"
)

// StateMask is a monotonically growing bitmask of session milestones. Once
// a bit is set it is never cleared for the lifetime of a Session (§3).
type StateMask uint32

const (
	StateInit StateMask = 1 << iota
	StateWSOpen
	StateCreated
	StateStarted
	StateClientJoined
	StateDataSent
	StateConsoleJoined
	StateCustomData1Received
	StateCtrlOfferReceived
	StateCtrlOfferSent
	StateCtrlConsoleAccepted
	StateCtrlClientAccepted
	StateCtrlEstablished
	StateDataOfferReceived
	StateDataOfferSent
	StateDataConsoleAccepted
	StateDataClientAccepted
	StateDataEstablished
)

var stateNames = []struct {
	bit  StateMask
	name string
}{
	{StateInit, "INIT"},
	{StateWSOpen, "WS_OPEN"},
	{StateCreated, "CREATED"},
	{StateStarted, "STARTED"},
	{StateClientJoined, "CLIENT_JOINED"},
	{StateDataSent, "DATA_SENT"},
	{StateConsoleJoined, "CONSOLE_JOINED"},
	{StateCustomData1Received, "CUSTOMDATA1_RECEIVED"},
	{StateCtrlOfferReceived, "CTRL_OFFER_RECEIVED"},
	{StateCtrlOfferSent, "CTRL_OFFER_SENT"},
	{StateCtrlConsoleAccepted, "CTRL_CONSOLE_ACCEPTED"},
	{StateCtrlClientAccepted, "CTRL_CLIENT_ACCEPTED"},
	{StateCtrlEstablished, "CTRL_ESTABLISHED"},
	{StateDataOfferReceived, "DATA_OFFER_RECEIVED"},
	{StateDataOfferSent, "DATA_OFFER_SENT"},
	{StateDataConsoleAccepted, "DATA_CONSOLE_ACCEPTED"},
	{StateDataClientAccepted, "DATA_CLIENT_ACCEPTED"},
	{StateDataEstablished, "DATA_ESTABLISHED"},
}

// String renders the set bits joined by "|", in declaration order.
func (m StateMask) String() string {
	s := ""
	for _, sn := range stateNames {
		if m&sn.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += sn.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Has reports whether every bit in want is set.
func (m StateMask) Has(want StateMask) bool {
	return m&want == want
}

// ConsoleGen is the console generation selector flag (§1 Non-goals: only
// gen-4/gen-5 are supported).
type ConsoleGen string

const (
	ConsoleGen4 ConsoleGen = "gen-4"
	ConsoleGen5 ConsoleGen = "gen-5"
)

// Platform maps the console generation selector to the wire-level platform
// tag used in session-message envelopes (§6: "to":[{"platform":"PS4|PS5"}]).
func (g ConsoleGen) Platform() string {
	if g == ConsoleGen4 {
		return "PS4"
	}
	return "PS5"
}

// PortKind distinguishes the control flow from the data flow during
// hole-punching (§4.5 Phase 3).
type PortKind int

const (
	PortCtrl PortKind = iota
	PortData
)

func (k PortKind) String() string {
	if k == PortCtrl {
		return "CTRL"
	}
	return "DATA"
}

// mappedPort records a UDP port mapping installed on an IGD during
// hole-punching, so Fini can remove it (§5, §9 UPnP lifecycle).
type mappedPort struct {
	igd  *reachability.IGDResult
	port int
}

// Session is the singleton per remote-play attempt (§3). Fields outside the
// mutex-guarded groups below are written by Init, Create, Start and
// PunchHole on the caller's goroutine; peerSID and consoleHashedID are
// overwritten by every PunchHole call, and ctrlSocket/dataSocket are set by
// the PunchHole call for that port kind.
type Session struct {
	bearerToken string
	stunServer  string

	consoleDeviceUID string
	consoleGen       ConsoleGen

	sessionID        string
	accountID        string
	pushContextID    string
	notificationFQDN string

	localSID        uint16
	localHashedID   [20]byte
	data1           [16]byte
	data2           [16]byte
	customData1     [16]byte
	customData1Set  bool

	peerSID         uint16
	consoleHashedID [20]byte

	stateMu sync.Mutex
	stateCV *sync.Cond
	state   StateMask

	notifyQueue *notify.Queue
	pushChan    *transport.PushChannel
	pushChanWG  sync.WaitGroup
	http        *transport.HTTPClient

	reachMu    sync.Mutex
	candidates *reachability.Candidates
	mappings   []mappedPort

	ctrlSocket *net.UDPConn
	dataSocket *net.UDPConn
}

// State returns the current state bitmask.
func (s *Session) State() StateMask {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// setState ORs bits into the state mask and broadcasts to every waiter.
// Bits already set are left untouched — the mask never shrinks.
func (s *Session) setState(bits StateMask) {
	s.stateMu.Lock()
	s.state |= bits
	s.stateMu.Unlock()
	s.stateCV.Broadcast()
}

// requireState returns a *StateError if any bit in want is missing from the
// current state.
func (s *Session) requireState(op string, want StateMask) error {
	cur := s.State()
	if !cur.Has(want) {
		return &StateError{Op: op, Required: want.String(), Have: cur}
	}
	return nil
}

// rejectIfState returns a *StateError if any bit in reject is already set —
// used to guard against re-entering a phase that already completed.
func (s *Session) rejectIfState(op string, reject StateMask) error {
	cur := s.State()
	if cur&reject != 0 {
		return &StateError{Op: op, Required: fmt.Sprintf("NOT %s", reject), Have: cur}
	}
	return nil
}
