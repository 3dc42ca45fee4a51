// Package archive uploads gzip-compressed state backups to an S3 bucket.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mt5bot/internal/application/port"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Archiver struct {
	bucket string
	prefix string
	up     uploader
}

var _ port.Archiver = (*S3Archiver)(nil)

// New loads the default AWS credential chain for region.
func NewS3(ctx context.Context, bucket, prefix, region string) (*S3Archiver, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws cfg: %w", err)
	}
	return newArchiver(bucket, prefix, manager.NewUploader(s3.NewFromConfig(awsCfg))), nil
}

func newArchiver(bucket, prefix string, up uploader) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, up: up}
}

// ObjectKey is prefix + key + ".gz".
func (a *S3Archiver) ObjectKey(key string) string {
	p := strings.TrimLeft(a.prefix, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + strings.TrimLeft(key, "/") + ".gz"
}

func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	_, err := a.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(a.ObjectKey(key)),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}
