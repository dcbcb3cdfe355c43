package transferinfra

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/transfer"
)

// S3API is the slice of the S3 client the uploader needs. Tests inject a
// fake; production passes *s3.Client.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader relays staged files to an S3 bucket under an optional key
// prefix.
type S3Uploader struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Uploader creates the uploader.
func NewS3Uploader(client S3API, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}
}

// Put streams the local file to s3://bucket/prefix/remoteName.
func (u *S3Uploader) Put(ctx context.Context, localPath, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return transfer.Errors().NewWithCause(transfer.ErrStagingMissing, err).
			WithDetail("local_path", localPath)
	}
	defer file.Close()

	key := path.Join(u.prefix, remoteName)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return classifyS3(err, key)
	}

	logx.WithFields(logx.Fields{"bucket": u.bucket, "key": key}).Info("transfer: object relayed")
	return nil
}

// classifyS3 splits S3 failures into rejections the job cannot recover
// from and transport trouble worth another attempt.
func classifyS3(err error, key string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "AccessDenied", "InvalidBucketName", "EntityTooLarge", "InvalidObjectState":
			return transfer.Errors().NewWithCause(transfer.ErrUploadRejected, err).
				WithDetail("key", key).
				WithDetail("s3_code", apiErr.ErrorCode())
		}
	}
	return transfer.Errors().NewWithCause(transfer.ErrUploadFailed, err).WithDetail("key", key)
}
