//go:build integration

package s3_test

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
	s3source "github.com/marmos91/mediabus/pkg/source/s3"
)

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or other S3-compatible endpoint) and creates a
// test bucket that will be cleaned up when the cleanup function is called.
//
// Parameters:
//   - t: The testing instance
//   - bucketName: Name of the test bucket to create
//
// Returns:
//   - *s3.Client: Configured S3 client
//   - cleanup: Function to delete all objects and the bucket
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, func()) {
	t.Helper()
	ctx := context.Background()

	// Get Localstack endpoint from environment or use default
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	// Load AWS config with Localstack endpoint
	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", // AccessKeyID
			"test", // SecretAccessKey
			"",     // SessionToken
		)),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	// Create S3 client with path-style URLs (required for Localstack)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	// Create test bucket
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	// Return cleanup function
	cleanup := func() {
		// List and delete all objects first
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}

		// Delete bucket
		client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	}

	return client, cleanup
}

// putObject uploads body under key with a content type.
func putObject(t *testing.T, client *s3.Client, bucket, key, contentType, body string) {
	t.Helper()
	_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		t.Fatalf("Failed to put %s: %v", key, err)
	}
}

// TestS3Source_Integration browses a bucket through the S3 catalog source
// against a real S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Source_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create S3 client connected to Localstack and seed the bucket
	// ========================================================================

	bucketName := "mediabus-test-bucket"
	client, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	putObject(t, client, bucketName, "media/jazz/so-what.mp3", "audio/mpeg", "not really an mp3")
	putObject(t, client, bucketName, "media/jazz/blue-in-green.mp3", "audio/mpeg", "nor this")
	putObject(t, client, bucketName, "media/cover.jpg", "image/jpeg", "jpeg")
	putObject(t, client, bucketName, "elsewhere/ignored.txt", "text/plain", "outside the prefix")

	src, err := s3source.NewS3Source(ctx, s3source.S3SourceConfig{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucketName,
		KeyPrefix: "media/",
		RootName:  "Bucket",
	})
	if err != nil {
		t.Fatalf("Failed to create S3 source: %v", err)
	}
	defer src.Close()

	// ========================================================================
	// Test: Root listing puts prefixes before objects
	// ========================================================================

	t.Run("RootChildren", func(t *testing.T) {
		children, err := src.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, nil)
		if err != nil {
			t.Fatalf("Failed to list root: %v", err)
		}
		if len(children) != 2 {
			t.Fatalf("Root has %d children, want 2", len(children))
		}
		if !children[0].Container || children[0].ID != "jazz/" {
			t.Errorf("First child = %q (container %v), want the jazz/ prefix", children[0].ID, children[0].Container)
		}
		if children[1].Container || children[1].ID != "cover.jpg" {
			t.Errorf("Second child = %q, want cover.jpg", children[1].ID)
		}
	})

	// ========================================================================
	// Test: Items carry type, size and a presigned URL
	// ========================================================================

	t.Run("ResolveItem", func(t *testing.T) {
		item, err := src.Resolve(ctx, "jazz/so-what.mp3", nil)
		if err != nil {
			t.Fatalf("Failed to resolve item: %v", err)
		}
		if got := item.Properties.Type(); got != property.TypeMusic {
			t.Errorf("Type = %q, want %q", got, property.TypeMusic)
		}
		if got := item.Properties.Size(); got != int64(len("not really an mp3")) {
			t.Errorf("Size = %d", got)
		}
		urls := item.Properties.URLs()
		if len(urls) != 1 || !strings.Contains(urls[0], "so-what.mp3") {
			t.Errorf("URLs = %v, want one presigned URL for the key", urls)
		}
		if item.ParentID != "jazz/" {
			t.Errorf("ParentID = %q, want jazz/", item.ParentID)
		}
	})

	// ========================================================================
	// Test: Missing keys are not found
	// ========================================================================

	t.Run("ResolveMissing", func(t *testing.T) {
		if _, err := src.Resolve(ctx, "jazz/missing.mp3", nil); err == nil {
			t.Error("Resolve of a missing key succeeded")
		}
		if _, err := src.Resolve(ctx, "rock/", nil); err == nil {
			t.Error("Resolve of a missing prefix succeeded")
		}
	})

	// ========================================================================
	// Test: Search scans items below a prefix
	// ========================================================================

	t.Run("Search", func(t *testing.T) {
		matches, err := src.Search(ctx, source.RootID, source.MustParseQuery("blue"), 0, 0, nil)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != "jazz/blue-in-green.mp3" {
			t.Errorf("Search matched %v, want only blue-in-green.mp3", matches)
		}
	})
}
