package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Params connection parameters of an S3 compatible object store
type S3Params struct {
	// Endpoint override, e.g. a MinIO server; empty uses AWS
	Endpoint string `validate:"omitempty,url"`
	// Region bucket region
	Region string `validate:"required"`
	// Bucket target bucket
	Bucket string `validate:"required"`
	// Prefix key prefix prepended to every reference
	Prefix string
	// AccessKey static access key; empty uses the default credential chain
	AccessKey string
	// SecretKey static secret key
	SecretKey string
}

// s3Store implements BlobStore over an S3 bucket
type s3Store struct {
	goutils.Component
	client *s3.Client
	bucket string
	prefix string
}

/*
NewS3Store define a blob store backed by an S3 bucket

	@param ctx context.Context - execution context
	@param params S3Params - connection parameters
	@returns store instance
*/
func NewS3Store(ctx context.Context, params S3Params) (BlobStore, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(params.Region)}
	if params.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load S3 client config [%w]", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	logTags := log.Fields{
		"package": "ephemera", "module": "blobs", "component": "s3-store", "bucket": params.Bucket,
	}
	return &s3Store{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		client: client,
		bucket: params.Bucket,
		prefix: params.Prefix,
	}, nil
}

func (s *s3Store) keyOf(ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	if s.prefix == "" {
		return ref, nil
	}
	return path.Join(s.prefix, ref), nil
}

func (s *s3Store) Put(ctx context.Context, ref string, content io.Reader, size int64) error {
	key, err := s.keyOf(ref)
	if err != nil {
		return err
	}

	// Payload signing needs a seekable body
	body, ok := content.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(io.LimitReader(content, size+1))
		if err != nil {
			return fmt.Errorf("unable to buffer blob '%s' [%w]", ref, err)
		}
		if int64(len(buf)) != size {
			return fmt.Errorf("blob '%s' has %d bytes, expected %d", ref, len(buf), size)
		}
		body = bytes.NewReader(buf)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}); err != nil {
		return fmt.Errorf("unable to upload blob '%s' [%w]", ref, err)
	}

	log.WithFields(s.GetLogTagsForContext(ctx)).
		WithField("ref", ref).
		WithField("size", size).
		Debug("Stored blob")
	return nil
}

func (s *s3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	key, err := s.keyOf(ref)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("'%s' [%w]", ref, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("unable to fetch blob '%s' [%w]", ref, err)
	}
	return resp.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, ref string) error {
	key, err := s.keyOf(ref)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("unable to delete blob '%s' [%w]", ref, err)
	}
	log.WithFields(s.GetLogTagsForContext(ctx)).WithField("ref", ref).Debug("Deleted blob")
	return nil
}
