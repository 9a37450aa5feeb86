// Package s3 implements a read-only catalog source over an S3 bucket.
//
// Key prefixes are containers and objects are items. A container's
// identifier is its prefix relative to the configured key prefix, ending in
// "/"; an item's identifier is its key relative to the key prefix. The root
// is "". Item URLs are presigned GET URLs when a presigner is configured and
// s3:// URLs otherwise. S3 has no change feed, so Watch never fires.
package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

const delimiter = "/"

// Client is the subset of the S3 API the source uses.
type Client interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner signs GET requests for item URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3SourceConfig configures an S3Source.
type S3SourceConfig struct {
	// Client is the configured S3 client.
	Client Client

	// Presigner signs item URLs. Optional.
	Presigner Presigner

	// Bucket is the bucket name.
	Bucket string

	// KeyPrefix scopes the catalog to keys below it.
	KeyPrefix string

	// RootName is the root's DisplayName. Default: the bucket name.
	RootName string

	// PresignExpiry is the lifetime of presigned URLs. Default: 1 hour.
	PresignExpiry time.Duration
}

// S3Source serves a bucket.
type S3Source struct {
	client    Client
	presigner Presigner
	bucket    string
	keyPrefix string
	rootName  string
	expiry    time.Duration

	watchers source.Watchers
}

// NewS3Source creates a source. The bucket is not contacted until the
// first request.
func NewS3Source(ctx context.Context, config S3SourceConfig) (*S3Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Client == nil {
		return nil, fmt.Errorf("s3 source: client is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 source: bucket is required")
	}

	prefix := strings.TrimPrefix(config.KeyPrefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, delimiter) {
		prefix += delimiter
	}
	name := config.RootName
	if name == "" {
		name = config.Bucket
	}
	expiry := config.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Source{
		client:    config.Client,
		presigner: config.Presigner,
		bucket:    config.Bucket,
		keyPrefix: prefix,
		rootName:  name,
		expiry:    expiry,
	}, nil
}

func isContainerID(id string) bool {
	return id == source.RootID || strings.HasSuffix(id, delimiter)
}

func parentOf(id string) string {
	trimmed := strings.TrimSuffix(id, delimiter)
	i := strings.LastIndex(trimmed, delimiter)
	if i < 0 {
		return source.RootID
	}
	return trimmed[:i+1]
}

func displayName(id string) string {
	return path.Base(strings.TrimSuffix(id, delimiter))
}

func (s *S3Source) key(id string) string {
	return s.keyPrefix + id
}

func (s *S3Source) idOf(key string) string {
	return strings.TrimPrefix(key, s.keyPrefix)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// listing is one delimited level below a prefix.
type listing struct {
	prefixes []string
	objects  []types.Object
}

func (s *S3Source) list(ctx context.Context, prefix string, delimited bool) (*listing, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if delimited {
		input.Delimiter = aws.String(delimiter)
	}

	out := &listing{}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			out.prefixes = append(out.prefixes, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) == prefix {
				continue
			}
			out.objects = append(out.objects, obj)
		}
	}
	return out, nil
}

func (s *S3Source) exists(ctx context.Context, prefix string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (s *S3Source) container(ctx context.Context, id string, names []property.Name) (*source.Object, error) {
	props := property.Table{
		property.Type:       property.String(property.TypeContainer),
		property.Searchable: property.Bool(true),
	}
	if id == source.RootID {
		props[property.DisplayName] = property.String(s.rootName)
	} else {
		props[property.DisplayName] = property.String(displayName(id))
	}
	if names == nil || slices.Contains(names, property.ChildCount) {
		l, err := s.list(ctx, s.key(id), true)
		if err != nil {
			return nil, err
		}
		props[property.ChildCount] = property.UInt(uint64(len(l.prefixes) + len(l.objects)))
	}
	return &source.Object{
		ID:         id,
		ParentID:   parentOf(id),
		Container:  true,
		Properties: source.Project(props, names),
	}, nil
}

func (s *S3Source) item(ctx context.Context, id, contentType string, size int64, modified *time.Time, names []property.Name) *source.Object {
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(id))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contentType, _, _ = strings.Cut(contentType, ";")

	props := property.Table{
		property.DisplayName: property.String(displayName(id)),
		property.MIMEType:    property.String(contentType),
		property.Type:        property.String(typeOf(contentType)),
		property.Size:        property.Int(size),
	}
	if modified != nil {
		props[property.Date] = property.String(modified.UTC().Format(time.RFC3339))
	}
	if names == nil || slices.Contains(names, property.URLs) {
		props[property.URLs] = property.StringList([]string{s.url(ctx, id)})
	}
	return &source.Object{
		ID:         id,
		ParentID:   parentOf(id),
		Properties: source.Project(props, names),
	}
}

func (s *S3Source) url(ctx context.Context, id string) string {
	key := s.key(id)
	if s.presigner != nil {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.expiry))
		if err == nil {
			return req.URL
		}
		logger.Warn("Failed to presign item URL", logger.KeyPath, key, logger.KeyError, err)
	}
	return "s3://" + s.bucket + "/" + key
}

func typeOf(contentType string) string {
	major, _, _ := strings.Cut(contentType, "/")
	switch major {
	case "audio":
		return property.TypeMusic
	case "video":
		return property.TypeVideo
	case "image":
		return property.TypeImage
	default:
		return property.TypeItem
	}
}

// Resolve implements source.Source.
func (s *S3Source) Resolve(ctx context.Context, id string, names []property.Name) (*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isContainerID(id) {
		if id != source.RootID {
			ok, err := s.exists(ctx, s.key(id))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %q", source.ErrNotFound, id)
			}
		}
		return s.container(ctx, id, names)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %q", source.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to head s3://%s/%s: %w", s.bucket, s.key(id), err)
	}
	return s.item(ctx, id, aws.ToString(head.ContentType), aws.ToInt64(head.ContentLength), head.LastModified, names), nil
}

// Children implements source.Source. Sub-prefixes list before objects,
// each in key order.
func (s *S3Source) Children(ctx context.Context, id string, filter source.ChildFilter, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isContainerID(id) {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}
	l, err := s.list(ctx, s.key(id), true)
	if err != nil {
		return nil, err
	}

	type entry struct {
		id  string
		obj *types.Object
	}
	var entries []entry
	if filter.Accepts(true) {
		for _, p := range l.prefixes {
			entries = append(entries, entry{id: s.idOf(p)})
		}
	}
	if filter.Accepts(false) {
		for i := range l.objects {
			entries = append(entries, entry{id: s.idOf(aws.ToString(l.objects[i].Key)), obj: &l.objects[i]})
		}
	}

	page := source.Window(entries, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, e := range page {
		if e.obj == nil {
			obj, err := s.container(ctx, e.id, names)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
			continue
		}
		out = append(out, s.item(ctx, e.id, "", aws.ToInt64(e.obj.Size), e.obj.LastModified, names))
	}
	return out, nil
}

// Search implements source.Source over the items below id. Prefixes are
// not candidates.
func (s *S3Source) Search(ctx context.Context, id string, query *source.Query, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isContainerID(id) {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}
	l, err := s.list(ctx, s.key(id), false)
	if err != nil {
		return nil, err
	}

	probe := []property.Name{property.DisplayName, property.MIMEType, property.Type, property.Size, property.Date}
	var matched []types.Object
	for _, obj := range l.objects {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, delimiter) {
			continue
		}
		candidate := s.item(ctx, s.idOf(key), "", aws.ToInt64(obj.Size), obj.LastModified, probe)
		if query.Match(candidate.Properties) {
			matched = append(matched, obj)
		}
	}

	page := source.Window(matched, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, obj := range page {
		out = append(out, s.item(ctx, s.idOf(aws.ToString(obj.Key)), "", aws.ToInt64(obj.Size), obj.LastModified, names))
	}
	return out, nil
}

// Watch implements source.Source. Callbacks are registered but never
// invoked.
func (s *S3Source) Watch(fn func(id string)) func() {
	return s.watchers.Add(fn)
}

// Close implements source.Source.
func (s *S3Source) Close() error { return nil }

var _ source.Source = (*S3Source)(nil)
