package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"alphafactory/internal/report"
)

type object struct {
	bucket, contentType string
	body                []byte
}

type fakePutter struct {
	objects map[string]object
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = object{
		bucket:      aws.ToString(in.Bucket),
		contentType: aws.ToString(in.ContentType),
		body:        body,
	}
	return &s3.PutObjectOutput{}, nil
}

func TestArchiverArchive(t *testing.T) {
	fp := &fakePutter{objects: map[string]object{}}
	a := newArchiver(fp, "reports", "")

	r := &report.Report{ID: "abc", Strategy: "sma_cross", NumTrades: 0}
	if err := a.Archive(context.Background(), r); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	js, ok := fp.objects["backtests/abc/report.json"]
	if !ok {
		t.Fatalf("report.json not uploaded; got keys %v", fp.objects)
	}
	if js.bucket != "reports" || js.contentType != "application/json" {
		t.Errorf("report.json bucket=%q type=%q", js.bucket, js.contentType)
	}
	var got report.Report
	if err := json.Unmarshal(js.body, &got); err != nil {
		t.Fatalf("decode report.json: %v", err)
	}
	if got.ID != "abc" || got.Strategy != "sma_cross" {
		t.Errorf("decoded report = %+v", got)
	}

	csv, ok := fp.objects["backtests/abc/trades.csv"]
	if !ok {
		t.Fatal("trades.csv not uploaded")
	}
	if !strings.HasPrefix(string(csv.body), "symbol,entry_time") {
		t.Errorf("trades.csv = %q, want header row", csv.body)
	}
}

func TestArchiverPutError(t *testing.T) {
	a := newArchiver(&fakePutter{err: errors.New("denied")}, "b", "runs")
	err := a.Archive(context.Background(), &report.Report{ID: "x"})
	if err == nil || !strings.Contains(err.Error(), "runs/x/report.json") {
		t.Errorf("Archive = %v, want error naming the key", err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"minio.internal:9000", true, "https://minio.internal:9000"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
