package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/gomodule/redigo/redis"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
)

const sequenceNotFound = "SEQUENCE_NOT_FOUND"

// INCRBY on a missing key would happily start from 0, which after a Destroy would hand out ids
// that were never reset.
var incrExisting = redis.NewScript(1, `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('`+sequenceNotFound+`')
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

type SequenceNotFound struct {
	Key string
}

func (e SequenceNotFound) Error() string {
	return fmt.Sprintf("Sequence [%s] does not exist, it needs to be reset first", e.Key)
}

// SequenceAllocator is a batch.Allocator backed by a single Redis counter, shared by every
// process that points at the same key.
type SequenceAllocator struct {
	pool *redis.Pool
	key  string
	step batch.Step
}

func NewSequenceAllocator(pool *redis.Pool, name string, step batch.Step) *SequenceAllocator {
	return &SequenceAllocator{pool: pool, key: "feedsync:sequence:" + name, step: step}
}

func (s *SequenceAllocator) Reset(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return RedisErr{Op: "reset sequence", Underlying: err}
	}
	defer conn.Close()
	if _, err := conn.Do("SET", s.key, s.step.Offset-s.step.Stride); err != nil {
		return RedisErr{Op: "reset sequence", Underlying: err}
	}
	return nil
}

func (s *SequenceAllocator) Allocate(ctx context.Context) (batch.RawId, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, RedisErr{Op: "allocate", Underlying: err}
	}
	defer conn.Close()
	raw, err := redis.Int64(incrExisting.Do(conn, s.key, s.step.Stride))
	if err != nil {
		if strings.Contains(err.Error(), sequenceNotFound) {
			return 0, SequenceNotFound{Key: s.key}
		}
		return 0, RedisErr{Op: "allocate", Underlying: err}
	}
	return batch.RawId(raw), nil
}

func (s *SequenceAllocator) Step(ctx context.Context) (batch.Step, error) {
	return s.step, nil
}

func (s *SequenceAllocator) Destroy(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return RedisErr{Op: "destroy sequence", Underlying: err}
	}
	defer conn.Close()
	if _, err := conn.Do("DEL", s.key); err != nil {
		return RedisErr{Op: "destroy sequence", Underlying: err}
	}
	return nil
}
