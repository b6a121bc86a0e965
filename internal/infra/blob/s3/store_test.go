package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"foresight/internal/blob"
)

type fakeObject struct {
	body        []byte
	contentType string
	meta        http.Header
}

// fakeBucket answers the handful of path-style S3 calls the store makes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	pageMax int
}

func response(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header, ContentLength: int64(len(body))}
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()
	if req.Method == http.MethodGet && q.Get("list-type") == "2" {
		return b.list(q.Get("prefix"), q.Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return response(http.StatusNotFound, nil, nil), nil
			}
			return response(http.StatusNotFound, []byte(`<Error><Code>NoSuchKey</Code></Error>`), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"abc123"`},
			"Last-Modified":  {"Wed, 01 Jan 2025 00:00:00 GMT"},
		}
		for k, v := range obj.meta {
			h[k] = v
		}
		if req.Method == http.MethodHead {
			return response(http.StatusOK, nil, h), nil
		}
		return response(http.StatusOK, obj.body, h), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		meta := http.Header{}
		for k, v := range req.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				meta[k] = v
			}
		}
		b.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return response(http.StatusOK, nil, http.Header{"Etag": {`"abc123"`}}), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func (b *fakeBucket) list(prefix, token string) *http.Response {
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := len(keys)
	if b.pageMax > 0 && start+b.pageMax < end {
		end = start + b.pageMax
	}
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if end < len(keys) {
		fmt.Fprintf(&sb, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		sb.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2025-01-01T00:00:00Z</LastModified></Contents>", k, len(b.objects[k].body))
	}
	sb.WriteString("</ListBucketResult>")
	return response(http.StatusOK, []byte(sb.String()), http.Header{"Content-Type": {"application/xml"}})
}

func newFakeStore(t *testing.T, bucket *fakeBucket) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Bucket:          "archives",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}, func(o *awss3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestS3StoreLifecycle(t *testing.T) {
	ctx := context.Background()
	bucket := &fakeBucket{objects: map[string]fakeObject{}, pageMax: 1}
	s := newFakeStore(t, bucket)
	if s.Driver() != blob.DriverS3 {
		t.Fatalf("unexpected driver")
	}

	info, err := s.Put(ctx, "exports/r1/a.csv", strings.NewReader("a,b\n"), blob.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"room": "r1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 4 || info.ETag != "abc123" || info.Metadata["room"] != "r1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "exports/r1/a.csv", strings.NewReader("x"), blob.PutOptions{}); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, rc, err := s.Get(ctx, "exports/r1/a.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "a,b\n" {
		t.Fatalf("unexpected body %q", body)
	}

	_, _ = s.Put(ctx, "exports/r1/b.csv", strings.NewReader("b"), blob.PutOptions{})
	list, err := s.List(ctx, "exports/")
	if err != nil || len(list) != 2 || list[1].Key != "exports/r1/b.csv" {
		t.Fatalf("paged list: %+v %v", list, err)
	}

	url, err := s.PresignURL(ctx, "exports/r1/a.csv", blob.SignedURLOptions{})
	if err != nil || !strings.Contains(url, "X-Amz-Signature") || !strings.Contains(url, "X-Amz-Expires=900") {
		t.Fatalf("presign: %s %v", url, err)
	}

	if ok, err := s.Delete(ctx, "exports/r1/a.csv"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "exports/r1/a.csv"); ok {
		t.Fatalf("second delete should report missing")
	}
	if _, _, err := s.Get(ctx, "exports/r1/a.csv"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3StoreRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
