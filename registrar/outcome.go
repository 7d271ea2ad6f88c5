package registrar

// Outcome classifies the result of a single registration attempt. It drives
// both the lane retry policy and the fee controller statistics.
type Outcome int

const (
	// Success - the submission was accepted by the chain.
	Success Outcome = iota
	// Failure - the submission was rejected or errored; retried and fed
	// into the fee controller.
	Failure
	// AlreadyRegistered - the credential is registered already; terminal,
	// success-equivalent.
	AlreadyRegistered
	// WindowClosed - outside the registration window; retried once the
	// window recurs.
	WindowClosed
	// InsufficientFunds - the balance cannot cover the cost; terminal for
	// the credential, the run continues for others.
	InsufficientFunds
	// TransientError - network faults or unavailable data; retried, never
	// fatal.
	TransientError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case AlreadyRegistered:
		return "already_registered"
	case WindowClosed:
		return "window_closed"
	case InsufficientFunds:
		return "insufficient_funds"
	case TransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// terminal reports whether the credential should be removed from its lane.
func (o Outcome) terminal() bool {
	switch o {
	case Success, AlreadyRegistered, InsufficientFunds:
		return true
	default:
		return false
	}
}
