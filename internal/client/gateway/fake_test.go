package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type object struct {
	data        []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// fakeBucket plays both the S3 API and the HTTP endpoint presigned URLs
// point at.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*object
	srv     *httptest.Server

	listErr error
	heads   int
}

func newFakeBucket(t *testing.T) *fakeBucket {
	t.Helper()
	b := &fakeBucket{objects: map[string]*object{}}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serveHTTP))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBucket) gateway(pageSize int32) *S3Gateway {
	return NewS3Gateway(b, b, b.srv.Client(), S3Config{Bucket: "media", PageSize: pageSize})
}

func (b *fakeBucket) serveHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for k := range r.Header {
			if strings.HasPrefix(k, "X-Amz-Meta-") {
				meta[strings.ToLower(strings.TrimPrefix(k, "X-Amz-Meta-"))] = r.Header.Get(k)
			}
		}
		b.objects[key] = &object{data: data, contentType: r.Header.Get("Content-Type"), meta: meta, modified: time.Now()}
	case http.MethodGet:
		o, ok := b.objects[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(o.data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func notFound() error {
	return &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found", Fault: smithy.FaultClient}
}

func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start, _ := strconv.Atoi(aws.ToString(in.ContinuationToken))
	end := min(len(keys), start+int(aws.ToInt32(in.MaxKeys)))
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (b *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heads++

	o, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	meta := make(map[string]string, len(o.meta))
	for k, v := range o.meta {
		meta[k] = v
	}
	return &s3.HeadObjectOutput{
		ContentType:   aws.String(o.contentType),
		ContentLength: aws.Int64(int64(len(o.data))),
		Metadata:      meta,
		LastModified:  aws.Time(o.modified),
	}, nil
}

func (b *fakeBucket) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	o, ok := b.objects[strings.TrimPrefix(src, "media/")]
	if !ok {
		return nil, notFound()
	}
	if in.MetadataDirective != types.MetadataDirectiveReplace {
		return nil, &smithy.GenericAPIError{Code: "InvalidRequest", Message: "copy onto itself"}
	}
	b.objects[aws.ToString(in.Key)] = &object{
		data:        bytes.Clone(o.data),
		contentType: aws.ToString(in.ContentType),
		meta:        in.Metadata,
		modified:    time.Now(),
	}
	return &s3.CopyObjectOutput{}, nil
}

func (b *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *fakeBucket) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "media" {
		return nil, &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "no bucket"}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (b *fakeBucket) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	h := http.Header{}
	h.Set("Content-Type", aws.ToString(in.ContentType))
	for k, v := range in.Metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return &v4.PresignedHTTPRequest{
		URL:          b.srv.URL + "/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig",
		Method:       http.MethodPut,
		SignedHeader: h,
	}, nil
}

func (b *fakeBucket) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    b.srv.URL + "/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig",
		Method: http.MethodGet,
	}, nil
}
