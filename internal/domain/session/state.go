package session

// State is a step of the session state machine.
type State int

const (
	StateCreated State = iota
	StateAwaitingQuestion
	StateResolvingGuess
	StateSubmitted
	StateFinished
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingQuestion:
		return "awaiting_question"
	case StateResolvingGuess:
		return "resolving_guess"
	case StateSubmitted:
		return "submitted"
	case StateFinished:
		return "finished"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
