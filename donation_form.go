package main

import (
	"regexp"
	"strings"
)

// FormPhase identifies where a donation attempt is in its lifecycle. Exactly
// one phase is active at a time, so combinations like "succeeded while still
// processing" cannot be represented.
type FormPhase int

const (
	// PhaseEditing: no usable intent handle yet, or the amount just changed
	// and a fresh handle is being fetched.
	PhaseEditing FormPhase = iota
	// PhaseReady: a handle matching the displayed amount is held; the payment
	// element can be rendered and the form submitted.
	PhaseReady
	// PhaseConfirming: a confirmation call is in flight; inputs are locked.
	PhaseConfirming
	// PhaseSucceeded: terminal until the donor explicitly resets.
	PhaseSucceeded
	// PhaseFailed: recoverable; any edit clears the error.
	PhaseFailed
)

func (p FormPhase) String() string {
	switch p {
	case PhaseEditing:
		return "editing"
	case PhaseReady:
		return "ready"
	case PhaseConfirming:
		return "confirming"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Validation messages shown to the donor
const (
	msgInvalidAmount = "Please enter a valid donation amount."
	msgMissingName   = "Please enter your full name."
	msgInvalidEmail  = "Please enter a valid email address."
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FormState is the complete state of the donation form. It is owned by a
// single controller; all changes go through Reduce.
type FormState struct {
	Phase      FormPhase
	Amount     float64 // Major currency units; 0 means not chosen yet
	DonorName  string
	DonorEmail string

	// ClientSecret is the handle for the intent matching the current amount.
	// Empty whenever the amount has no intent yet or just changed.
	ClientSecret string

	// Message carries the last validation or processor error (PhaseFailed and
	// failed validations) or an interim status note (e.g. still processing).
	Message string

	// IntentSeq is the sequence number of the most recent intent request.
	// Responses carrying an older sequence are stale and must be discarded.
	IntentSeq uint64
}

// FormEvent is a user input or network response applied to the form state.
type FormEvent interface {
	isFormEvent()
}

// AmountChanged: the donor picked a new amount. Invalidates the current
// handle and bumps the intent sequence; the controller is expected to request
// a fresh intent tagged with the new sequence.
type AmountChanged struct {
	Amount float64
}

// NameChanged / EmailChanged: donor info edits. Allowed in any non-terminal
// phase without touching the intent handle.
type NameChanged struct {
	Name string
}

type EmailChanged struct {
	Email string
}

// IntentCreated: the intent service returned a handle for request Seq.
type IntentCreated struct {
	Seq          uint64
	ClientSecret string
}

// IntentFailed: the intent service call for request Seq failed.
type IntentFailed struct {
	Seq     uint64
	Message string
}

// SubmitRequested: the donor pressed the donate button. Validation runs here;
// a failing check records a message and the phase does not advance.
type SubmitRequested struct{}

// ConfirmSucceeded / ConfirmFailed / ConfirmPending: outcome of the
// confirmation flow for the in-flight submission.
type ConfirmSucceeded struct{}

type ConfirmFailed struct {
	Message string
}

type ConfirmPending struct {
	Message string
}

// FormReset: "Donate Again". Clears everything back to the initial state.
type FormReset struct{}

func (AmountChanged) isFormEvent()    {}
func (NameChanged) isFormEvent()      {}
func (EmailChanged) isFormEvent()     {}
func (IntentCreated) isFormEvent()    {}
func (IntentFailed) isFormEvent()     {}
func (SubmitRequested) isFormEvent()  {}
func (ConfirmSucceeded) isFormEvent() {}
func (ConfirmFailed) isFormEvent()    {}
func (ConfirmPending) isFormEvent()   {}
func (FormReset) isFormEvent()        {}

// Reduce maps (state, event) to the next state. It never mutates its input
// and performs no I/O; the controller issues intent requests when it sees
// IntentSeq advance.
func Reduce(s FormState, ev FormEvent) FormState {
	switch ev := ev.(type) {
	case AmountChanged:
		if s.Phase == PhaseConfirming || s.Phase == PhaseSucceeded {
			return s // Inputs are locked
		}
		s.Amount = ev.Amount
		s.ClientSecret = "" // Old handle no longer matches the amount
		s.Message = ""
		s.Phase = PhaseEditing
		if ev.Amount > 0 {
			s.IntentSeq++ // Controller fetches a fresh intent under this sequence
		}
		return s

	case NameChanged:
		if s.Phase == PhaseConfirming || s.Phase == PhaseSucceeded {
			return s
		}
		s.DonorName = ev.Name
		s.Message = ""
		if s.Phase == PhaseFailed {
			s.Phase = phaseForHandle(s)
		}
		return s

	case EmailChanged:
		if s.Phase == PhaseConfirming || s.Phase == PhaseSucceeded {
			return s
		}
		s.DonorEmail = ev.Email
		s.Message = ""
		if s.Phase == PhaseFailed {
			s.Phase = phaseForHandle(s)
		}
		return s

	case IntentCreated:
		if ev.Seq != s.IntentSeq {
			return s // Stale response for a superseded amount
		}
		if s.Phase != PhaseEditing && s.Phase != PhaseFailed {
			return s
		}
		s.ClientSecret = ev.ClientSecret
		s.Message = ""
		s.Phase = PhaseReady
		return s

	case IntentFailed:
		if ev.Seq != s.IntentSeq {
			return s
		}
		s.ClientSecret = ""
		s.Message = ev.Message
		s.Phase = PhaseFailed
		return s

	case SubmitRequested:
		// Resubmission after a decline reuses the same handle
		if s.Phase != PhaseEditing && s.Phase != PhaseReady && s.Phase != PhaseFailed {
			return s
		}
		if msg := s.validate(); msg != "" {
			s.Message = msg
			return s
		}
		if s.ClientSecret == "" {
			return s // Intent fetch still in flight; nothing to confirm against
		}
		s.Message = ""
		s.Phase = PhaseConfirming
		return s

	case ConfirmSucceeded:
		if s.Phase != PhaseConfirming {
			return s
		}
		s.Message = ""
		s.Phase = PhaseSucceeded
		return s

	case ConfirmFailed:
		if s.Phase != PhaseConfirming {
			return s
		}
		s.Message = ev.Message
		s.Phase = PhaseFailed
		return s

	case ConfirmPending:
		if s.Phase != PhaseConfirming {
			return s
		}
		s.Message = ev.Message
		return s

	case FormReset:
		if s.Phase != PhaseSucceeded {
			return s
		}
		// Sequence keeps counting so responses from before the reset stay stale
		return FormState{IntentSeq: s.IntentSeq}
	}

	return s
}

// phaseForHandle picks the editing-side phase after an error clears: Ready if
// a handle for the current amount is still held, Editing otherwise.
func phaseForHandle(s FormState) FormPhase {
	if s.ClientSecret != "" {
		return PhaseReady
	}
	return PhaseEditing
}

// validate runs the pre-submission checks. Returns the first failing check's
// donor-facing message, or "" when the form may be submitted.
func (s FormState) validate() string {
	if s.Amount <= 0 {
		return msgInvalidAmount
	}
	if strings.TrimSpace(s.DonorName) == "" {
		return msgMissingName
	}
	if !emailPattern.MatchString(strings.TrimSpace(s.DonorEmail)) {
		return msgInvalidEmail
	}
	return ""
}
