// Package files is the file service that stores the files created by executions and hands out short-lived links to
// them.
package files

import (
	"bytes"
	"context"
	"fmt"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	"net/url"
	"sync"
	"time"
)

const (
	// DefaultBucket is the bucket that uploads are stored in when none is configured.
	DefaultBucket = "file-uploads"
	// ExpirationDays is the number of days after which uploaded objects are deleted by the bucket's lifecycle rule.
	ExpirationDays = 1
)

// ObjectStore stores uploaded files.
type ObjectStore interface {
	// EnsureBucket creates the bucket if it doesn't exist. The returned bool is true if the bucket was created.
	EnsureBucket(ctx context.Context) (bool, error)
	// Put stores the data under the given name.
	Put(ctx context.Context, name string, data []byte, contentType string) error
	// PresignGet returns a URL that can be used to download the object for the given duration.
	PresignGet(ctx context.Context, name string, expiry time.Duration) (*url.URL, error)
}

type StorageConfig interface {
	StorageEndpoint() string
	StorageRegion() string
	StorageAccessKey() string
	StorageSecretKey() string
	StorageUseSSL() bool
	StorageBucket() string
}

// S3Store is an ObjectStore that stores objects in an S3 compatible bucket, such as one hosted by MinIO.
type S3Store struct {
	Client *s3.S3
	Bucket string
}

// NewS3Store creates an S3Store from the StorageConfig. Path style addressing is always used so that the endpoint can
// be a MinIO server.
func NewS3Store(config StorageConfig) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(config.StorageRegion()),
		Credentials:      credentials.NewStaticCredentials(config.StorageAccessKey(), config.StorageSecretKey(), ""),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(!config.StorageUseSSL()),
	}
	if config.StorageEndpoint() != "" {
		awsConfig.Endpoint = aws.String(config.StorageEndpoint())
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "could not create AWS session")
	}

	bucket := config.StorageBucket()
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &S3Store{Client: s3.New(sess), Bucket: bucket}, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context) (bool, error) {
	if _, err := s.Client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.Bucket)}); err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou || awsErr.Code() == s3.ErrCodeBucketAlreadyExists) {
			return false, nil
		}
		return false, errors.Wrapf(err, "could not create bucket %q", s.Bucket)
	}

	if _, err := s.Client.PutBucketLifecycleConfigurationWithContext(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.Bucket),
		LifecycleConfiguration: &s3.BucketLifecycleConfiguration{
			Rules: []*s3.LifecycleRule{{
				ID:         aws.String("expire-bucket"),
				Status:     aws.String(s3.ExpirationStatusEnabled),
				Filter:     &s3.LifecycleRuleFilter{Prefix: aws.String("")},
				Expiration: &s3.LifecycleExpiration{Days: aws.Int64(ExpirationDays)},
			}},
		},
	}); err != nil {
		return true, errors.Wrapf(err, "could not set lifecycle rule on bucket %q", s.Bucket)
	}
	return true, nil
}

func (s *S3Store) Put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := s.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return errors.Wrapf(err, "could not put object %q", name)
}

func (s *S3Store) PresignGet(ctx context.Context, name string, expiry time.Duration) (*url.URL, error) {
	req, _ := s.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(name),
	})
	req.SetContext(ctx)
	presigned, err := req.Presign(expiry)
	if err != nil {
		return nil, errors.Wrapf(err, "could not presign object %q", name)
	}
	return url.Parse(presigned)
}

// Object is an object stored in a MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore is an ObjectStore that keeps objects in memory. It is used for development and in tests.
type MemoryStore struct {
	Bucket string
	// Now returns the current time. It can be replaced in tests.
	Now func() time.Time

	mutex   sync.RWMutex
	created bool
	objects map[string]Object
}

// NewMemoryStore creates a MemoryStore for the named bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MemoryStore{Bucket: bucket, Now: time.Now, objects: make(map[string]Object)}
}

func (m *MemoryStore) EnsureBucket(ctx context.Context) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	created := !m.created
	m.created = true
	return created, nil
}

func (m *MemoryStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.objects[name] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// Get returns the object with the given name.
func (m *MemoryStore) Get(name string) (Object, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	object, ok := m.objects[name]
	return object, ok
}

func (m *MemoryStore) PresignGet(ctx context.Context, name string, expiry time.Duration) (*url.URL, error) {
	if _, ok := m.Get(name); !ok {
		return nil, errors.Errorf("object %q does not exist", name)
	}
	return &url.URL{
		Path:     fmt.Sprintf("/%s/%s", m.Bucket, name),
		RawQuery: url.Values{"expires": {fmt.Sprint(m.Now().Add(expiry).Unix())}}.Encode(),
	}, nil
}
