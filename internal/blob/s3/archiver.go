package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"alphafactory/internal/report"
)

// ObjectPutter is the subset of *s3.Client the Archiver calls.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads a report as JSON plus its trade ledger as CSV:
//
//	{prefix}/{id}/report.json
//	{prefix}/{id}/trades.csv
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "backtests"

// NewArchiver creates an Archiver writing into c's bucket.
func NewArchiver(c *Client, prefix string) *Archiver {
	return newArchiver(c.s3, c.bucket, prefix)
}

func newArchiver(client ObjectPutter, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ReportKey returns the object key for r's JSON document.
func (a *Archiver) ReportKey(id string) string {
	return path.Join(a.prefix, id, "report.json")
}

// TradesKey returns the object key for r's trade CSV.
func (a *Archiver) TradesKey(id string) string {
	return path.Join(a.prefix, id, "trades.csv")
}

// Archive uploads both objects for r.
func (a *Archiver) Archive(ctx context.Context, r *report.Report) error {
	var js bytes.Buffer
	if err := report.WriteJSON(&js, r); err != nil {
		return fmt.Errorf("s3blob: encode report %s: %w", r.ID, err)
	}
	if err := a.put(ctx, a.ReportKey(r.ID), &js, "application/json"); err != nil {
		return err
	}

	var csv bytes.Buffer
	if err := report.WriteTradesCSV(&csv, r); err != nil {
		return fmt.Errorf("s3blob: encode trades %s: %w", r.ID, err)
	}
	return a.put(ctx, a.TradesKey(r.ID), &csv, "text/csv")
}

func (a *Archiver) put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}
