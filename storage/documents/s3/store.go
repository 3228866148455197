// Package s3store keeps document contents in an S3 (or S3 compatible) bucket.
package s3store

import (
	"context"
	"io"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/document"
)

type store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	expires   time.Duration
}

var _ document.BlobStore = (*store)(nil)

// New builds a store from the documents config.
// Credentials come from the config when set, from the default AWS chain (env, shared config, IAM role) otherwise.
func New(ctx context.Context, conf core.DocumentsConfig) (document.BlobStore, error) {
	if conf.Bucket == "" {
		return nil, errors.New("documents bucket is not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(conf.Region)}
	if conf.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
			o.UsePathStyle = true
		}
	})
	expires := conf.URLExpires
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	return &store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    conf.Bucket,
		expires:   expires,
	}, nil
}

func (s *store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return errors.Wrapf(err, "putting %s", key)
	}
	return nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", key)
	}
	return out.Body, nil
}

// URL presigns a GET of the object that downloads it as filename.
func (s *store) URL(ctx context.Context, key, filename string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": filename})),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", errors.Wrapf(err, "presigning %s", key)
	}
	return req.URL, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "deleting %s", key)
	}
	return nil
}
