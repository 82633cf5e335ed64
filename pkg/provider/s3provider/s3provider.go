// Package s3provider serves remote data from an S3 bucket that upstream
// publishers (price boards, weather services, scheme registries) write to.
// Object keys are "{prefix}{category}/{discriminator}"; a changeset is every
// object of the category modified after the watermark.
package s3provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/provider"
)

// ClientConfig holds the connection settings of NewClient.
type ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// NewClient creates an S3 client. Static credentials are used when given,
// otherwise the default AWS credential chain.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Config configures a Provider.
type Config struct {
	Client *s3.Client
	Bucket string

	// Prefix is prepended to every object key, e.g. "feeds/".
	Prefix string
}

// Provider reads payloads from S3 objects.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ provider.Provider = (*Provider)(nil)

// New returns a provider. The bucket must already exist.
func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Provider{client: cfg.Client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (p *Provider) objectKey(category cache.Category, discriminator string) string {
	return p.prefix + string(category) + "/" + discriminator
}

// Fetch downloads one object. A missing object is a permanent failure.
func (p *Provider) Fetch(ctx context.Context, category cache.Category, discriminator string, _ provider.Credentials) ([]byte, error) {
	key := cache.NewKey(category, discriminator)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(category, discriminator)),
	})
	if err != nil {
		return nil, classify(ctx, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, classify(ctx, key, err)
	}
	return buf.Bytes(), nil
}

type changed struct {
	discriminator string
	modified      time.Time
}

// FetchChangeset lists objects of category modified after since, oldest
// first, and downloads each.
func (p *Provider) FetchChangeset(ctx context.Context, category cache.Category, since time.Time, creds provider.Credentials) ([]provider.ChangeItem, error) {
	prefix := p.prefix + string(category) + "/"
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []changed
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(ctx, "", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil || !obj.LastModified.After(since) {
				continue
			}
			disc := strings.TrimPrefix(*obj.Key, prefix)
			if disc == "" {
				continue
			}
			objects = append(objects, changed{discriminator: disc, modified: *obj.LastModified})
		}
	}
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].modified.Before(objects[j].modified) })

	items := make([]provider.ChangeItem, 0, len(objects))
	for _, obj := range objects {
		payload, err := p.Fetch(ctx, category, obj.discriminator, creds)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		items = append(items, provider.ChangeItem{
			Key:     cache.NewKey(category, obj.discriminator),
			Payload: payload,
			Err:     err,
		})
	}

	logger.DebugCtx(ctx, "Fetched changeset",
		logger.KeyProvider, "s3",
		logger.KeyBucket, p.bucket,
		logger.KeyCategory, string(category),
		logger.KeyItems, len(items))
	return items, nil
}

// classify maps S3 errors onto provider error classes. Throttling, server
// faults and network timeouts are transient; missing objects and other
// client faults are permanent.
func classify(ctx context.Context, key string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return provider.Permanent(key, err)
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return provider.Permanent(key, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.Transient(key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"RequestTimeout", "InternalError", "ServiceUnavailable":
			return provider.Transient(key, err)
		}
		if apiErr.ErrorFault() == smithy.FaultClient {
			return provider.Permanent(key, err)
		}
	}
	return provider.Transient(key, err)
}
