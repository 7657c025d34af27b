package booking

// AdmissionState tracks one admission attempt. Only the two last states
// are outcomes; anything in between means the attempt is still running.
type AdmissionState int

const (
	StateStart AdmissionState = iota
	StateCapacityChecked
	StatePriced
	StateReserved
	StatePaymentInitiated
	StateAwaitingCallback
	StateFailedRolledBack
)

func (s AdmissionState) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateCapacityChecked:
		return "CAPACITY_CHECKED"
	case StatePriced:
		return "PRICED"
	case StateReserved:
		return "RESERVED"
	case StatePaymentInitiated:
		return "PAYMENT_INITIATED"
	case StateAwaitingCallback:
		return "AWAITING_CALLBACK"
	case StateFailedRolledBack:
		return "FAILED_ROLLED_BACK"
	}
	return "UNKNOWN"
}

// next reports whether the admission machine may move from s to to.
func (s AdmissionState) next(to AdmissionState) bool {
	switch s {
	case StateStart:
		return to == StateCapacityChecked
	case StateCapacityChecked:
		return to == StatePriced
	case StatePriced:
		return to == StateReserved
	case StateReserved:
		return to == StatePaymentInitiated || to == StateFailedRolledBack
	case StatePaymentInitiated:
		return to == StateAwaitingCallback || to == StateFailedRolledBack
	case StateAwaitingCallback, StateFailedRolledBack:
		return false
	}
	return false
}
