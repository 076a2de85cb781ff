// Package objectstore implements hugestore.Store over a read-mostly
// remote object store reached through ranged GET requests, modelled
// on an S3 bucket holding one object per content hash.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugelog"
	"github.com/hugefs/hugefs/internal/hugeratelimit"
	"github.com/hugefs/hugefs/internal/hugestore"
)

var logger = hugelog.New("store.object")

// Store is a hugestore.Store backed by an S3-shaped object store: one
// object per content hash, under the "plain/<hex-hash>" key prefix.
// It never supports creating or opening mutable files, and its Add
// always fails, so a Mirror cannot copy into it either: its objects
// are written out of band.
type Store struct {
	client  s3iface.S3API
	bucket  string
	limiter *hugeratelimit.Limiter
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithRateLimiter bounds the request rate issued against the bucket.
func WithRateLimiter(l *hugeratelimit.Limiter) Option {
	return func(s *Store) { s.limiter = l }
}

// Open constructs a Store for the named bucket using the default AWS
// session (region, credentials resolved the usual SDK way: env vars,
// shared config, instance profile).
func Open(bucket string, opts ...Option) (*Store, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	s := &Store{client: s3.New(sess), bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewWithClient constructs a Store against an already-configured S3
// client, letting tests substitute a fake.
func NewWithClient(client s3iface.S3API, bucket string, opts ...Option) *Store {
	s := &Store{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func keyForHash(h hugehash.Hash) string {
	return "plain/" + h.Hex()
}

func (s *Store) GetConfig() (hugestore.Config, error) {
	return hugestore.Config{}, nil
}

func (s *Store) URL() string {
	return "s3://" + s.bucket
}

func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Store) Get(ctx context.Context, fileHash hugehash.Hash, offset uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, hugeerr.New(hugeerr.KindBadPath, "size must be positive")
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	key := keyForHash(fileHash)
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(size)-1)
	logger.Debugf("GET s3://%s/%s range=%s", s.bucket, key, rng)

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, hugeerr.New(hugeerr.KindNoSuchHash, fileHash.Hex())
		}
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, key, err)
	}

	data := buf.Bytes()
	if len(data) > size {
		data = data[:size]
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, fileHash hugehash.Hash) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}

	key := keyForHash(fileHash)
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, hugeerr.Wrap(hugeerr.KindStorageError, key, err)
	}
	return true, nil
}

// Add always fails: object stores reached through this package are
// read-mostly, populated out of band or via Mirror into a store that
// does support Add.
func (s *Store) Add(context.Context, hugehash.Hash, []byte) error {
	return hugeerr.New(hugeerr.KindNoWritableStore, s.URL())
}

// CreateFile always reports ok=false: see the Store doc comment.
func (s *Store) CreateFile(context.Context) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}

// OpenFile always reports ok=false: see the Store doc comment.
func (s *Store) OpenFile(context.Context, hugestore.MutableFileID) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}

func isNotFound(err error) bool {
	type awsErr interface {
		Code() string
	}
	if ae, ok := err.(awsErr); ok {
		switch ae.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
