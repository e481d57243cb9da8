package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/terminology"
)

// fakeS3 serves ListObjectsV2 and GetObject for one path-style bucket.
type fakeS3 struct {
	objects map[string]string
	gets    int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	}

	if req.Method == http.MethodGet {
		f.gets++
		body, ok := f.objects[key]
		if !ok {
			return xmlResponse(http.StatusNotFound,
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`), nil
		}
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": {"application/json"}},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
		}, nil
	}
	return xmlResponse(http.StatusMethodNotAllowed, `<Error><Code>MethodNotAllowed</Code></Error>`), nil
}

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newFakeS3Source(t *testing.T, fake *fakeS3, prefix string) *S3Source {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("LoadDefaultConfig() error = %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return NewS3SourceFromClient(client, "terminology", prefix)
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"r4/CodeSystem-size.json": codeSystemJSON,
		"r4/ValueSet-size.json":   valueSetJSON,
		"r4/package.json":         `{"name":"example"}`,
		"other/ValueSet-x.json":   valueSetJSON,
	}}
	src := newFakeS3Source(t, fake, "r4")
	ctx := context.Background()

	names, err := src.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 || names[0] != "CodeSystem-size.json" || names[1] != "ValueSet-size.json" {
		t.Errorf("List() = %v", names)
	}

	if _, err := src.Open(ctx, "ValueSet-missing.json"); !IsNotExist(err) {
		t.Errorf("Open(missing) error = %v, want not exist", err)
	}

	mem := terminology.NewInMemorySupport(vs.R4, terminology.WithoutCommonCodeSystems())
	stats, err := Load(ctx, src, mem)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if stats.CodeSystems != 1 || stats.ValueSets != 1 || stats.Errors != 0 {
		t.Errorf("Load() stats = %+v", stats)
	}
	if !mem.IsValueSetSupported(ctx, nil, "http://example.org/vs/size") {
		t.Error("ValueSet from S3 not loaded")
	}

	if src.String() != "s3://terminology/r4/" {
		t.Errorf("String() = %q", src.String())
	}
}

func TestNewS3Source_RequiresBucket(t *testing.T) {
	if _, err := NewS3Source(context.Background(), S3Config{}); err == nil {
		t.Error("NewS3Source() without a bucket should fail")
	}
}
