// Package sessionmsg implements the session-message sub-protocol codec of
// spec.md §4.4: the OFFER/RESULT/ACCEPT/TERMINATE actions exchanged over
// both the HTTP sessionMessage endpoint and the push channel, including the
// vendor client's deliberate JSON malformations.
package sessionmsg

// Action identifies the session-message sub-protocol action.
type Action string

const (
	ActionOffer     Action = "OFFER"
	ActionResult    Action = "RESULT"
	ActionAccept    Action = "ACCEPT"
	ActionTerminate Action = "TERMINATE"
	ActionUnknown   Action = "UNKNOWN"
)

// CandidateType distinguishes LAN-scope from internet-scope candidates.
type CandidateType string

const (
	CandidateLocal  CandidateType = "LOCAL"
	CandidateStatic CandidateType = "STATIC"
)

// Candidate is a (type, addr, port) triple advertising a reachable
// endpoint, per the §3 data model. Identity is the (Type, Addr, Port)
// triple.
type Candidate struct {
	Type       CandidateType
	Addr       string
	MappedAddr string
	Port       int
	MappedPort int
}

// ConnectionRequest is the payload of a Session Message (§3).
type ConnectionRequest struct {
	SID               uint16
	PeerSID           uint16
	SKey              [16]byte
	NATType           int
	Candidates        []Candidate
	DefaultRouteMAC   [6]byte
	HasDefaultRouteMAC bool
	LocalHashedID     [20]byte
}

// Message is a decoded or to-be-encoded session message (§3).
type Message struct {
	Action      Action
	ReqID       uint16
	Error       uint16
	ConnRequest *ConnectionRequest // nil when the envelope carries no body request
}
