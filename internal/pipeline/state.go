package pipeline

// State is a step of the request lifecycle.
//
//	Requested → Classifying → Resolving → CheckingFreshness → Reading → Decoded → Revealed
//
// Classifying may end in Unsupported, Uninitialized or Empty; Resolving in
// ResolutionFailed; Reading in ReadFailed. A fresh cache hit goes from
// CheckingFreshness straight to Revealed.
type State string

const (
	StateRequested         State = "Requested"
	StateClassifying       State = "Classifying"
	StateResolving         State = "Resolving"
	StateCheckingFreshness State = "CheckingFreshness"
	StateReading           State = "Reading"
	StateDecoded           State = "Decoded"
	StateRevealed          State = "Revealed"

	StateUnsupported      State = "Unsupported"
	StateUninitialized    State = "Uninitialized"
	StateEmpty            State = "Empty"
	StateResolutionFailed State = "ResolutionFailed"
	StateReadFailed       State = "ReadFailed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateRevealed, StateUnsupported, StateUninitialized, StateEmpty,
		StateResolutionFailed, StateReadFailed:
		return true
	}
	return false
}

// Failed reports whether s is a terminal failure.
func (s State) Failed() bool {
	return s.Terminal() && s != StateRevealed
}

// level is the status level reported for a terminal state.
func (s State) level() string {
	switch s {
	case StateRevealed, StateEmpty, StateUnsupported:
		return "info"
	default:
		return "warning"
	}
}
