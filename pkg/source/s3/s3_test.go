package s3

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

// fakeClient serves ListObjectsV2 and HeadObject from a key set, in pages of
// pageSize entries.
type fakeClient struct {
	keys     map[string]int64
	pageSize int
	lists    int
}

func newFakeClient(keys ...string) *fakeClient {
	c := &fakeClient{keys: map[string]int64{}, pageSize: 2}
	for i, k := range keys {
		c.keys[k] = int64(100 + i)
	}
	return c
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.lists++
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// Build the full, sorted level: objects and common prefixes.
	type entry struct {
		name   string
		prefix bool
	}
	seen := map[string]bool{}
	var entries []entry
	for key := range c.keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				p := prefix + rest[:i+1]
				if !seen[p] {
					seen[p] = true
					entries = append(entries, entry{p, true})
				}
				continue
			}
		}
		entries = append(entries, entry{key, false})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	size := c.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < size {
		size = int(*in.MaxKeys)
	}
	end := min(start+size, len(entries))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(entries))}
	for _, e := range entries[start:end] {
		if e.prefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.name)})
			continue
		}
		modified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(e.name),
			Size:         aws.Int64(c.keys[e.name]),
			LastModified: &modified,
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents) + len(out.CommonPrefixes)))
	if end < len(entries) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := c.keys[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{ContentLength: aws.Int64(size)}
	if strings.HasSuffix(aws.ToString(in.Key), ".ogg") {
		out.ContentType = aws.String("audio/ogg")
	}
	return out, nil
}

type fakePresigner struct{ fail bool }

func (p fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.fail {
		return nil, errors.New("no credentials")
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed/" + aws.ToString(in.Key) + "?sig=1"}, nil
}

func newTestSource(t *testing.T, c *fakeClient, presigner Presigner) *S3Source {
	t.Helper()
	s, err := NewS3Source(context.Background(), S3SourceConfig{
		Client:    c,
		Presigner: presigner,
		Bucket:    "media",
		KeyPrefix: "library",
	})
	require.NoError(t, err)
	return s
}

func catalog() *fakeClient {
	return newFakeClient(
		"library/albums/rock/a.ogg",
		"library/albums/rock/b.ogg",
		"library/albums/jazz/c.ogg",
		"library/albums/",
		"library/cover.png",
		"library/photo.jpg",
		"library/readme",
		"elsewhere/x.ogg",
	)
}

func TestResolveRoot(t *testing.T) {
	s := newTestSource(t, catalog(), nil)
	root, err := s.Resolve(context.Background(), source.RootID, nil)
	require.NoError(t, err)
	assert.True(t, root.Container)
	assert.Equal(t, "media", root.Properties.DisplayName())
	assert.Equal(t, uint64(4), root.Properties.ChildCount())
}

func TestResolveContainer(t *testing.T) {
	s := newTestSource(t, catalog(), nil)
	ctx := context.Background()

	obj, err := s.Resolve(ctx, "albums/rock/", nil)
	require.NoError(t, err)
	assert.True(t, obj.Container)
	assert.Equal(t, "rock", obj.Properties.DisplayName())
	assert.Equal(t, "albums/", obj.ParentID)
	assert.Equal(t, uint64(2), obj.Properties.ChildCount())

	_, err = s.Resolve(ctx, "albums/pop/", nil)
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestResolveItem(t *testing.T) {
	s := newTestSource(t, catalog(), fakePresigner{})
	ctx := context.Background()

	obj, err := s.Resolve(ctx, "albums/rock/a.ogg", nil)
	require.NoError(t, err)
	assert.False(t, obj.Container)
	assert.Equal(t, "albums/rock/", obj.ParentID)
	assert.Equal(t, "a.ogg", obj.Properties.DisplayName())
	assert.Equal(t, "audio/ogg", obj.Properties.MIMEType())
	assert.Equal(t, property.TypeMusic, obj.Properties.Type())
	assert.Equal(t, int64(100), obj.Properties.Size())
	assert.Equal(t, []string{"https://signed/library/albums/rock/a.ogg?sig=1"}, obj.Properties.URLs())

	_, err = s.Resolve(ctx, "albums/rock/zzz.ogg", nil)
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestURLFallback(t *testing.T) {
	s := newTestSource(t, catalog(), fakePresigner{fail: true})
	obj, err := s.Resolve(context.Background(), "cover.png", []property.Name{property.URLs})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://media/library/cover.png"}, obj.Properties.URLs())
}

func TestChildrenPaginates(t *testing.T) {
	c := catalog()
	s := newTestSource(t, c, nil)
	ctx := context.Background()

	objs, err := s.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, []property.Name{property.DisplayName, property.MIMEType})
	require.NoError(t, err)
	var ids []string
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"albums/", "cover.png", "photo.jpg", "readme"}, ids)
	assert.Greater(t, c.lists, 1, "listing spans several pages")

	assert.Equal(t, "image/png", objs[1].Properties.MIMEType())
	assert.Equal(t, "application/octet-stream", objs[3].Properties.MIMEType())

	items, err := s.Children(ctx, source.RootID, source.ChildrenItems, 1, 1, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "photo.jpg", items[0].ID)
	assert.Equal(t, property.TypeImage, items[0].Properties.Type())

	containers, err := s.Children(ctx, "albums/", source.ChildrenContainers, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "albums/jazz/", containers[0].ID)
	assert.Equal(t, uint64(1), containers[0].Properties.ChildCount())

	_, err = s.Children(ctx, "cover.png", source.ChildrenAll, 0, 0, nil)
	assert.ErrorIs(t, err, source.ErrNotContainer)
}

func TestSearch(t *testing.T) {
	s := newTestSource(t, catalog(), nil)
	ctx := context.Background()

	objs, err := s.Search(ctx, "albums/", source.MustParseQuery(`DisplayName contains ".ogg"`), 0, 0, []property.Name{property.DisplayName})
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "albums/jazz/c.ogg", objs[0].ID)

	objs, err = s.Search(ctx, source.RootID, source.MustParseQuery(`Type = image`), 0, 0, nil)
	require.NoError(t, err)
	assert.Len(t, objs, 2)
}

func TestNewS3SourceValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewS3Source(ctx, S3SourceConfig{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewS3Source(ctx, S3SourceConfig{Client: newFakeClient()})
	assert.Error(t, err)
}
