package admission

// Controller owns the process-wide admission state. One instance is created
// at start-up and shared by every submission.
type Controller struct {
	Guard       *Guard
	Idempotency IdempotencyStore
	Locks       *JobLock
}

// NewController fills nil parts with in-memory defaults.
func NewController(guard *Guard, idem IdempotencyStore, locks *JobLock) *Controller {
	if guard == nil {
		guard = NewGuard(DefaultGuardConfig())
	}
	if idem == nil {
		idem = NewMemoryIdempotency(DefaultIdempotencyTTL, nil)
	}
	if locks == nil {
		locks = NewJobLock()
	}
	return &Controller{Guard: guard, Idempotency: idem, Locks: locks}
}
