//go:build integration

package s3provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/provider"
)

// localstackEndpoint starts a Localstack container, or uses
// LOCALSTACK_ENDPOINT when set.
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":              "s3",
				"DEFAULT_REGION":        "us-east-1",
				"EAGER_SERVICE_LOADING": "1",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4566/tcp"),
				wait.ForHTTP("/_localstack/health").
					WithPort("4566/tcp").
					WithStartupTimeout(60*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start localstack container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func setup(t *testing.T, bucket string) (*s3.Client, *Provider) {
	t.Helper()
	ctx := context.Background()

	client, err := NewClient(ctx, ClientConfig{
		Endpoint:        localstackEndpoint(t),
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	p, err := New(Config{Client: client, Bucket: bucket, Prefix: "feeds/"})
	require.NoError(t, err)
	return client, p
}

func putObject(t *testing.T, client *s3.Client, bucket, key, body string) {
	t.Helper()
	_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	require.NoError(t, err)
}

func TestS3Provider_Fetch(t *testing.T) {
	client, p := setup(t, "agrisync-fetch")
	putObject(t, client, "agrisync-fetch", "feeds/price/onion/nashik", `{"modal":2150}`)

	body, err := p.Fetch(context.Background(), cache.CategoryPrice, "onion/nashik", provider.Credentials{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"modal":2150}`, string(body))

	_, err = p.Fetch(context.Background(), cache.CategoryPrice, "missing", provider.Credentials{})
	assert.True(t, agerrors.IsPermanent(err))
}

func TestS3Provider_FetchChangeset(t *testing.T) {
	client, p := setup(t, "agrisync-changes")
	before := time.Now().Add(-time.Minute)
	putObject(t, client, "agrisync-changes", "feeds/scheme/pm-kisan", "rules")
	putObject(t, client, "agrisync-changes", "feeds/scheme/kcc", "credit")
	putObject(t, client, "agrisync-changes", "feeds/price/onion", "2150")

	items, err := p.FetchChangeset(context.Background(), cache.CategoryScheme, before, provider.Credentials{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	got := map[string]string{}
	for _, it := range items {
		require.NoError(t, it.Err)
		got[it.Key] = string(it.Payload)
	}
	assert.Equal(t, map[string]string{"scheme:pm-kisan": "rules", "scheme:kcc": "credit"}, got)

	items, err = p.FetchChangeset(context.Background(), cache.CategoryScheme, time.Now().Add(time.Hour), provider.Credentials{})
	require.NoError(t, err)
	assert.Empty(t, items)
}
