// Package redisdoc stores per-owner course documents in Redis.
//
// Each owner has three keys under the configured prefix:
//
//	{prefix}owner:{id}:courses  hash   course id -> JSON document
//	{prefix}owner:{id}:order    zset   course id scored by first insert
//	{prefix}owner:{id}:seq      string insert counter
//
// The order set is written with ZADD NX so replacing a course keeps its
// original position.
package redisdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// DefaultKeyPrefix is used when Options.KeyPrefix is empty.
const DefaultKeyPrefix = "tt:"

var _ remote.Adapter = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a remote.Adapter over Redis.
type Store struct {
	rdb    *goredis.Client
	prefix string
	logger *log.Logger
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options, logger *log.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	s := New(rdb, opts.KeyPrefix, logger)
	s.logger.Printf("Connected to redis at %s", opts.Addr)
	return s, nil
}

// New wraps an existing client. If logger is nil, logging is discarded.
func New(rdb *goredis.Client, keyPrefix string, logger *log.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{rdb: rdb, prefix: keyPrefix, logger: logger}
}

func (s *Store) coursesKey(ownerID string) string {
	return s.prefix + "owner:" + ownerID + ":courses"
}

func (s *Store) orderKey(ownerID string) string {
	return s.prefix + "owner:" + ownerID + ":order"
}

func (s *Store) seqKey(ownerID string) string {
	return s.prefix + "owner:" + ownerID + ":seq"
}

// LoadAll implements remote.Adapter.
func (s *Store) LoadAll(ctx context.Context, ownerID string) (schedule.Set, error) {
	ids, err := s.rdb.ZRange(ctx, s.orderKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, schedule.NewPersistenceError("remote", "loadAll",
			fmt.Errorf("failed to read course order: %w", err))
	}
	set := schedule.Set{}
	if len(ids) == 0 {
		return set, nil
	}

	docs, err := s.rdb.HMGet(ctx, s.coursesKey(ownerID), ids...).Result()
	if err != nil {
		return nil, schedule.NewPersistenceError("remote", "loadAll",
			fmt.Errorf("failed to read courses: %w", err))
	}

	for i, raw := range docs {
		doc, ok := raw.(string)
		if !ok {
			// Order entry without a document, left by an interrupted remove.
			continue
		}
		var c schedule.Course
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			s.logger.Printf("WARNING: skipping unreadable course document %s for %s: %v", ids[i], ownerID, err)
			continue
		}
		set = append(set, c)
	}
	return set, nil
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	if err := s.write(ctx, ownerID, []schedule.Course{course}); err != nil {
		return schedule.NewPersistenceError("remote", "upsert", err)
	}
	return nil
}

// BatchUpsert implements remote.Adapter. The writes run in one MULTI/EXEC
// block.
func (s *Store) BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error {
	if len(courses) == 0 {
		return nil
	}
	if err := s.write(ctx, ownerID, courses); err != nil {
		return schedule.NewPersistenceError("remote", "batchUpsert", err)
	}
	s.logger.Printf("Batch upserted %d courses for %s", len(courses), ownerID)
	return nil
}

func (s *Store) write(ctx context.Context, ownerID string, courses []schedule.Course) error {
	docs := make([]string, len(courses))
	for i, c := range courses {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal course %s: %w", c.ID, err)
		}
		docs[i] = string(b)
	}

	// Reserve one score per course. Gaps from failed writes are harmless.
	last, err := s.rdb.IncrBy(ctx, s.seqKey(ownerID), int64(len(courses))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve order: %w", err)
	}
	first := last - int64(len(courses)) + 1

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, c := range courses {
			pipe.HSet(ctx, s.coursesKey(ownerID), c.ID, docs[i])
			pipe.ZAddNX(ctx, s.orderKey(ownerID), goredis.Z{
				Score:  float64(first + int64(i)),
				Member: c.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write courses: %w", err)
	}
	return nil
}

// Remove implements remote.Adapter.
func (s *Store) Remove(ctx context.Context, ownerID, courseID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, s.coursesKey(ownerID), courseID)
		pipe.ZRem(ctx, s.orderKey(ownerID), courseID)
		return nil
	})
	if err != nil {
		return schedule.NewPersistenceError("remote", "remove",
			fmt.Errorf("failed to delete course %s: %w", courseID, err))
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
