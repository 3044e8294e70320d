package changelog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemorySource_ChangedKeys(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(Keys("c", "a", "b", "a", "c", "d")...)

	type args struct {
		since VersionId
		upTo  VersionId
	}
	tests := []struct {
		name    string
		args    args
		want    []Key
		wantErr bool
	}{
		{
			"everything, deduplicated and ordered by key",
			args{0, 6},
			Keys("a", "b", "c", "d"),
			false,
		},
		{
			"bounded at both ends",
			args{2, 4},
			Keys("a", "b"),
			false,
		},
		{
			"empty range",
			args{6, 6},
			nil,
			false,
		},
		{
			"backwards range",
			args{5, 1},
			nil,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := source.ChangedKeys(ctx, tt.args.since, tt.args.upTo)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMemorySource_Backlog(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(Keys("a", "b", "c")...)

	backlog, err := source.Backlog(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, backlog)

	assert.NoError(t, source.Commit(ctx, 2))
	backlog, err = source.Backlog(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, backlog)

	// commits never move backwards
	assert.NoError(t, source.Commit(ctx, 1))
	checkpoint, err := source.Checkpoint(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, checkpoint)

	assert.NoError(t, source.Append(ctx, Keys("a")))
	last, err := source.LastVersion(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 4, last)
	backlog, err = source.Backlog(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, backlog)
}
