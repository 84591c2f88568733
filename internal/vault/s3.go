package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"vfspanel/internal/panel"
)

// s3API is the subset of the S3 client the vault uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Vault client.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint (MinIO, Localstack) and switches
	// to path-style addressing.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault keeps sealed secrets as objects <prefix>/<id>.age in a bucket.
type S3Vault struct {
	client s3API
	bucket string
	prefix string
	sealer Sealer
}

var _ panel.CredentialVault = (*S3Vault)(nil)

// NewS3Vault builds an S3 client from the default AWS credential chain,
// overridden by any static keys in opts.
func NewS3Vault(ctx context.Context, opts S3Options, sealer Sealer) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(client, opts.Bucket, opts.Prefix, sealer), nil
}

func newS3Vault(client s3API, bucket, prefix string, sealer Sealer) *S3Vault {
	return &S3Vault{client: client, bucket: bucket, prefix: prefix, sealer: sealer}
}

// Store seals password and uploads it under id.
func (v *S3Vault) Store(ctx context.Context, id, password string) error {
	if err := checkID(id); err != nil {
		return err
	}
	sealed, err := v.sealer.Seal([]byte(password))
	if err != nil {
		return fmt.Errorf("sealing secret %s: %w", id, err)
	}
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.key(id)),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fmt.Errorf("uploading secret %s: %w", id, err)
	}
	return nil
}

// Load downloads and opens the secret stored under id.
func (v *S3Vault) Load(ctx context.Context, id string) (string, bool, error) {
	if err := checkID(id); err != nil {
		return "", false, err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("downloading secret %s: %w", id, err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, fmt.Errorf("reading secret %s: %w", id, err)
	}
	plain, err := v.sealer.Open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("opening secret %s: %w", id, err)
	}
	return string(plain), true, nil
}

// Remove deletes the object for id. S3 deletes are idempotent, so a
// missing secret is not an error.
func (v *S3Vault) Remove(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("deleting secret %s: %w", id, err)
	}
	return nil
}

func (v *S3Vault) key(id string) string {
	if v.prefix == "" {
		return id + ".age"
	}
	return path.Join(v.prefix, id+".age")
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
