package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/config"
)

type SpillErr struct {
	Op         string
	Underlying error
}

func (e SpillErr) Error() string {
	return fmt.Sprintf("Spill store failed to [%s]: %v", e.Op, e.Underlying)
}

func (e SpillErr) Unwrap() error {
	return e.Underlying
}

// Open opens (or creates) the pebble database that spilled partitions live in. An empty
// spill dir means an in-memory database.
func Open(conf config.Partition) (*pebble.DB, error) {
	opts := &pebble.Options{}
	dir := conf.SpillDir
	if len(dir) == 0 {
		opts.FS = vfs.NewMem()
		dir = "spill"
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, SpillErr{Op: "open", Underlying: err}
	}
	log.Info().Str("dir", conf.SpillDir).Msg("Opened spill store")
	return db, nil
}
