package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// WorkerId identifies a work loop in logs; unique per loop, per sweep
type WorkerId string

// NewWorkerId returns a WorkerId for the idx-th loop sweeping the given feed
func NewWorkerId(feed string, idx int) WorkerId {
	unique := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return WorkerId(fmt.Sprintf("%s-%d-%s", feed, idx, unique))
}

func (w *WorkerId) String() string {
	return string(*w)
}

func (w *WorkerId) Set(s string) error {
	if len(strings.TrimSpace(s)) == 0 {
		return fmt.Errorf("worker Id cannot be empty")
	} else {
		*w = WorkerId(s)
		return nil
	}
}

func (w *WorkerId) Type() string {
	return "WorkerId"
}
