package order

// Status is the ledger lifecycle state of a record. FILLED and CANCELLED
// are terminal; once reached a record never changes again.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusError           Status = "ERROR"
)

func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// transitions maps each status to the set of states it may move to.
// PENDING may jump straight to a fill state: an acknowledgement can be
// lost while executions still stream in. ERROR may go back to SUBMITTED
// when the caller resubmits the same record.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSubmitted:       true,
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusError:           true,
	},
	StatusSubmitted: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusError:           true,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusError:           true,
	},
	StatusError: {
		StatusSubmitted:       true,
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
	},
	StatusFilled:    {},
	StatusCancelled: {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}
