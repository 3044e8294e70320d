package leader

type Checker interface {

	// IsLeader returns true if this instance has the leader lock
	IsLeader() bool
}

// Lock describes the algebra for a leader lock
type Lock interface {
	Checker

	// Start runs the leader lock loop
	Start()

	// Stop stops the leader lock loop
	Stop()
}

// ConstantLock is a Lock whose answer never changes. Single-process deployments without a
// shared store use ConstantLock(true).
type ConstantLock bool

func (n ConstantLock) IsLeader() bool {
	return bool(n)
}

func (n ConstantLock) Start() {}

func (n ConstantLock) Stop() {}
