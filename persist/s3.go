package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client used by the S3 sink.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 keeps the snapshot in a single S3 object.
type S3 struct {
	Client S3API
	Bucket string
	Key    string
}

// NewS3 returns an S3 sink. client is typically s3.NewFromConfig(cfg).
func NewS3(client S3API, bucket, key string) (*S3, error) {
	if client == nil {
		return nil, errors.New("persist: s3 client is nil")
	}
	if bucket == "" || key == "" {
		return nil, errors.New("persist: s3 bucket and key are required")
	}
	return &S3{Client: client, Bucket: bucket, Key: key}, nil
}

// Save uploads the snapshot, replacing the previous object.
func (s *S3) Save(ctx context.Context, records []Record) error {
	data, err := Encode(records, time.Now())
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("persist: put s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	return nil
}

// Load downloads the snapshot. A missing object is an empty snapshot.
func (s *S3) Load(ctx context.Context) ([]Record, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: get s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("persist: read s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	return Decode(data)
}

var _ Snapshotter = (*S3)(nil)
