// Package storage archives raw MITRE bundles and dashboard exports in S3.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
)

const (
	BundlePrefix = "bundles"
	ExportPrefix = "exports"

	linkExpiry    = 15 * time.Minute
	putTries      = 3
	putRetryDelay = 200 * time.Millisecond
)

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archive stores JSON documents in one bucket.
type Archive struct {
	api            objectAPI
	client         *s3.Client
	bucket         string
	publicEndpoint string
}

// NewS3Client builds a path-style S3 client from AWS_REGION, AWS_ENDPOINT,
// AWS_ACCESS_KEY and AWS_SECRET_KEY.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// NewArchive uses AWS_BUCKET and AWS_PUBLIC_ENDPOINT.
func NewArchive(client *s3.Client) *Archive {
	return &Archive{
		api:            client,
		client:         client,
		bucket:         util.GetEnvString("AWS_BUCKET", "attack-patterns"),
		publicEndpoint: util.GetEnv("AWS_PUBLIC_ENDPOINT"),
	}
}

// BundleKey is where the bundle of an ingestion run is stored.
func BundleKey(correlationID string, at time.Time) string {
	return path.Join(BundlePrefix, at.UTC().Format("2006/01/02"), correlationID+".json")
}

// PutBundle stores the raw STIX bundle of an ingestion run.
func (a *Archive) PutBundle(ctx context.Context, correlationID string, data []byte) (string, error) {
	key := BundleKey(correlationID, time.Now())
	if err := a.put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// PutExport stores a catalog export under exports/<name>.json.
func (a *Archive) PutExport(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(ExportPrefix, strings.TrimSuffix(name, ".json")+".json")
	if err := a.put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Archive) put(ctx context.Context, key string, data []byte) error {
	err := util.RetryErrWithContext(ctx, putTries, putRetryDelay, func(ctx context.Context) error {
		_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from S3: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// DownloadLink presigns a GET for key against AWS_PUBLIC_ENDPOINT, keeping
// any path prefix of that endpoint.
func (a *Archive) DownloadLink(ctx context.Context, key string) (string, error) {
	if a.client == nil {
		return "", errors.New("download links need an S3 client")
	}
	publicURL, err := url.Parse(a.publicEndpoint)
	if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
		return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT: %s", a.publicEndpoint)
	}
	prefix := strings.TrimSuffix(publicURL.Path, "/")
	publicBaseEndpoint := fmt.Sprintf("%s://%s", publicURL.Scheme, publicURL.Host)

	// The signature covers the Host header, so sign against the public host.
	presignClient := s3.NewFromConfig(
		aws.Config{
			Region:      a.client.Options().Region,
			Credentials: a.client.Options().Credentials,
			HTTPClient:  a.client.Options().HTTPClient,
		},
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(publicBaseEndpoint)
			o.UsePathStyle = true
		},
	)

	out, err := s3.NewPresignClient(presignClient).PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(linkExpiry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix == "" {
		return out.URL, nil
	}
	signedURL, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signedURL.Path = prefix + signedURL.Path
	return signedURL.String(), nil
}
