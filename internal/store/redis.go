package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ctrace/internal/trace"
)

const finishRetries = 5

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each record as a JSON string under <prefix>job:<id> and
// indexes terminal records in the <prefix>finished sorted set by finish
// time.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// redisJob is the stored form of Job.
type redisJob struct {
	ID           string      `json:"id"`
	Status       Status      `json:"status"`
	SourceDigest string      `json:"source_digest"`
	Lines        int         `json:"lines"`
	Result       trace.Trace `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	FinishedAt   time.Time   `json:"finished_at,omitempty"`
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *RedisStore) finishedKey() string     { return s.prefix + "finished" }

func (s *RedisStore) Create(ctx context.Context, job Job) error {
	job.Status = StatusPending
	data, err := json.Marshal(toRedis(job))
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Finish(ctx context.Context, id string, res Result) error {
	if err := res.validate(); err != nil {
		return err
	}
	key := s.jobKey(id)
	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return ErrAlreadyFinished
		}
		job.apply(res)
		data, err := json.Marshal(toRedis(job))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.finishedKey(), redis.Z{Score: float64(res.FinishedAt.UnixMilli()), Member: id})
			return nil
		})
		return err
	}
	for i := 0; i < finishRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("finish %s: too much contention", id)
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	return s.load(ctx, s.rdb, s.jobKey(id))
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) (Job, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	var rj redisJob
	if err := json.Unmarshal(data, &rj); err != nil {
		return Job{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return fromRedis(rj), nil
}

func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.finishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
		members[i] = id
	}
	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.finishedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted.Val()), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.jobKey(id))
		pipe.ZRem(ctx, s.finishedKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func toRedis(j Job) redisJob {
	return redisJob{
		ID:           j.ID,
		Status:       j.Status,
		SourceDigest: j.SourceDigest,
		Lines:        j.Lines,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt.UTC(),
		FinishedAt:   j.FinishedAt.UTC(),
	}
}

func fromRedis(r redisJob) Job {
	if r.Status == StatusSuccess && r.Result == nil {
		r.Result = trace.Trace{}
	}
	return Job{
		ID:           r.ID,
		Status:       r.Status,
		SourceDigest: r.SourceDigest,
		Lines:        r.Lines,
		Result:       r.Result,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt,
		FinishedAt:   r.FinishedAt,
	}
}
