package booking

// allowedTransitions is the booking lifecycle. Creation always starts at
// pending; cancelled, completed and no_show are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(allowedTransitions[s]) == 0
}

// Cancellable reports whether a booking in this status may still be cancelled.
func Cancellable(s Status) bool {
	return CanTransition(s, StatusCancelled)
}
