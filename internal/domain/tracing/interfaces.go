package tracing

import "context"

// Transaction is a unit of background work being traced
type Transaction interface {
	// Context carries the transaction, for spans started further down
	Context() context.Context
	// Label tags the transaction, e.g. with the feed it works on
	Label(key string, value string)
	// Fail records an error against the transaction
	Fail(err error)
	End()
}

type Tracer interface {
	BackgroundTx(name string) Transaction
}
