package models

// FlowState is a position in the consent protocol.
type FlowState string

const (
	StateStart            FlowState = "START"
	StateManaged          FlowState = "MANAGED"
	StateDiscovered       FlowState = "DISCOVERED"
	StateCAAuthenticated  FlowState = "CA_AUTHENTICATED"
	StateConsentRequested FlowState = "CONSENT_REQUESTED"
	StateConsentSigned    FlowState = "CONSENT_SIGNED"
	StateConsentVerified  FlowState = "CONSENT_VERIFIED"
	StateTerminal         FlowState = "TERMINAL"
)

var stateRank = map[FlowState]int{
	StateStart:            0,
	StateManaged:          1,
	StateDiscovered:       2,
	StateCAAuthenticated:  3,
	StateConsentRequested: 4,
	StateConsentSigned:    5,
	StateConsentVerified:  6,
	StateTerminal:         7,
}

// Rank orders states along the protocol; unknown states rank below START.
func (s FlowState) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or beyond other.
func (s FlowState) AtLeast(other FlowState) bool { return s.Rank() >= other.Rank() }

// Phase names an API operation of the protocol.
type Phase string

const (
	PhaseSupport001 Phase = "Support001"
	PhaseSupport002 Phase = "Support002"
	PhaseIA101      Phase = "IA101"
	PhaseIA102      Phase = "IA102"
	PhaseIA103      Phase = "IA103"
	PhaseIA104      Phase = "IA104"
	PhaseIA002      Phase = "IA002"
)
