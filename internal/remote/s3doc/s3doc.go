// Package s3doc stores per-owner course documents as objects in an S3 bucket
// or any S3-compatible service.
//
// Keys are laid out as {prefix}owners/{owner}/courses/{course}.json. The
// first-insert time is kept in the object's "created" metadata so LoadAll can
// return courses in insertion order even though S3 lists keys lexically.
package s3doc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

const createdMeta = "created"

var _ remote.Adapter = (*Store)(nil)

// API is the subset of *s3.Client the store needs.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config configures the S3 backend.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, R2, ...)
	// Static credentials. Leave empty to use the default AWS chain.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// Store is a remote.Adapter over S3 objects.
type Store struct {
	client API
	bucket string
	prefix string
	logger *log.Logger

	mu   sync.Mutex
	last int64 // last issued created stamp, keeps batch stamps strictly increasing
}

// Open builds an S3 client from cfg and the default AWS configuration chain.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, logger), nil
}

// New wraps an existing client. If logger is nil, logging is discarded.
func New(client API, bucket, prefix string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *Store) ownerPrefix(ownerID string) string {
	return s.prefix + "owners/" + ownerID + "/courses/"
}

func (s *Store) key(ownerID, courseID string) string {
	return s.ownerPrefix(ownerID) + courseID + ".json"
}

func (s *Store) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

type object struct {
	key     string
	created int64
	course  schedule.Course
}

// LoadAll implements remote.Adapter.
func (s *Store) LoadAll(ctx context.Context, ownerID string) (schedule.Set, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.ownerPrefix(ownerID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, schedule.NewPersistenceError("remote", "loadAll",
				fmt.Errorf("S3 list objects failed: %w", err))
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".json") {
				keys = append(keys, *obj.Key)
			}
		}
	}

	objects := make([]object, 0, len(keys))
	for _, key := range keys {
		obj, err := s.get(ctx, key)
		if err != nil {
			var nsk *s3types.NoSuchKey
			if errors.As(err, &nsk) {
				// Deleted between list and get.
				continue
			}
			return nil, schedule.NewPersistenceError("remote", "loadAll", err)
		}
		if obj == nil {
			continue
		}
		objects = append(objects, *obj)
	}

	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].created != objects[j].created {
			return objects[i].created < objects[j].created
		}
		return objects[i].key < objects[j].key
	})

	set := make(schedule.Set, 0, len(objects))
	for _, o := range objects {
		set = append(set, o.course)
	}
	return set, nil
}

// get fetches and decodes one object. A nil object with a nil error means the
// document was unreadable and has been skipped.
func (s *Store) get(ctx context.Context, key string) (*object, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 get object failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("S3 read body failed: %w", err)
	}

	var c schedule.Course
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Printf("WARNING: skipping unreadable course document %s: %v", key, err)
		return nil, nil
	}
	created, _ := strconv.ParseInt(resp.Metadata[createdMeta], 10, 64)
	return &object{key: key, created: created, course: c}, nil
}

// createdStamp returns the existing created stamp for key, or a fresh one if
// the object does not exist yet.
func (s *Store) createdStamp(ctx context.Context, key string) (string, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nsk) {
			return strconv.FormatInt(s.stamp(), 10), nil
		}
		return "", fmt.Errorf("S3 head object failed: %w", err)
	}
	if v, ok := head.Metadata[createdMeta]; ok && v != "" {
		return v, nil
	}
	return strconv.FormatInt(s.stamp(), 10), nil
}

func (s *Store) put(ctx context.Context, ownerID string, course schedule.Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("failed to marshal course %s: %w", course.ID, err)
	}
	key := s.key(ownerID, course.ID)
	created, err := s.createdStamp(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{createdMeta: created},
	})
	if err != nil {
		return fmt.Errorf("S3 put object failed: %w", err)
	}
	return nil
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	return schedule.NewPersistenceError("remote", "upsert", s.put(ctx, ownerID, course))
}

// BatchUpsert implements remote.Adapter. S3 has no multi-object write, so
// courses are written in order and the batch stops at the first failure.
func (s *Store) BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error {
	for _, c := range courses {
		if err := s.put(ctx, ownerID, c); err != nil {
			return schedule.NewPersistenceError("remote", "batchUpsert", err)
		}
	}
	s.logger.Printf("Batch upserted %d courses for %s", len(courses), ownerID)
	return nil
}

// Remove implements remote.Adapter. Deleting a missing key succeeds.
func (s *Store) Remove(ctx context.Context, ownerID, courseID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ownerID, courseID)),
	})
	if err != nil {
		return schedule.NewPersistenceError("remote", "remove",
			fmt.Errorf("S3 delete object failed: %w", err))
	}
	return nil
}
