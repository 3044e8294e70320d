package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/config"
)

func TestILMSetup_Policy(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		minAge    string
	}{
		{"default", 0, "604800s"},
		{"configured", 36 * time.Hour, "129600s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := NewILMSetup(nil, config.EventsIndexing{Enabled: true, Retention: tt.retention})
			policy := setup.Policy()["policy"].(Json)
			deletePhase := policy["phases"].(Json)["delete"].(Json)
			assert.Equal(t, tt.minAge, deletePhase["min_age"])
		})
	}
}

func TestILMSetup_EventsTemplateHook(t *testing.T) {
	enabled := DefaultTemplateSetup(nil, NewILMSetup(nil, config.EventsIndexing{Enabled: true}).EventsTemplateHook())
	disabled := DefaultTemplateSetup(nil, NewILMSetup(nil, config.EventsIndexing{}).EventsTemplateHook())

	assert.Len(t, enabled.Templates, 3)
	assert.Equal(t, EventsPolicyName, enabled.Templates[2].Settings["index.lifecycle.name"])
	assert.Nil(t, disabled.Templates[2].Settings)
	// the shared template is never modified by hooks
	assert.Nil(t, EventsTemplate.Settings)
}
