// Command s3drive exercises a running bucketd instance end to end with a real
// S3 SDK client: create a bucket, upload a few keys, list, download and verify,
// delete each object, then remove the bucket.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func run(ctx context.Context) error {
	endpoint := flag.String("endpoint", "localhost:8080", "bucketd endpoint (host:port)")
	accessKey := flag.String("access-key", "", "access key (empty for unauthenticated servers)")
	secretKey := flag.String("secret-key", "", "secret key")
	bucket := flag.String("bucket", "s3drive-smoke", "bucket to exercise")
	flag.Parse()

	slog.SetDefault(slog.New(log.NewWithOptions(os.Stdout, log.Options{
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})))

	opts := &minio.Options{
		Secure:       false,
		BucketLookup: minio.BucketLookupPath,
	}
	if *accessKey != "" {
		opts.Creds = credentials.NewStaticV4(*accessKey, *secretKey, "")
	} else {
		opts.Creds = credentials.NewStaticV4("anonymous", "anonymous", "")
	}
	client, err := minio.New(*endpoint, opts)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if err := ensureBucket(ctx, client, *bucket); err != nil {
		return err
	}

	payloads := map[string][]byte{
		"hello.txt":        []byte("Hello World from Python"),
		"nested/one.bin":   bytes.Repeat([]byte{0xAB}, 4096),
		"nested/two.txt":   []byte("second object"),
		"zzz/last-key.txt": []byte("sorted last"),
	}
	for key, body := range payloads {
		if _, err := client.PutObject(ctx, *bucket, key, bytes.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
			return fmt.Errorf("put %q: %w", key, err)
		}
		slog.Info("uploaded", slog.String("key", key), slog.Int("size", len(body)))
	}

	var listed []string
	for info := range client.ListObjects(ctx, *bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("list: %w", info.Err)
		}
		listed = append(listed, info.Key)
	}
	if len(listed) != len(payloads) {
		return fmt.Errorf("listed %d keys, want %d", len(listed), len(payloads))
	}
	slog.Info("listed bucket", slog.Int("keys", len(listed)))

	for _, key := range listed {
		obj, err := client.GetObject(ctx, *bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}
		got, err := io.ReadAll(obj)
		_ = obj.Close()
		if err != nil {
			return fmt.Errorf("read %q: %w", key, err)
		}
		if !bytes.Equal(got, payloads[key]) {
			return fmt.Errorf("payload mismatch for %q: got %d bytes", key, len(got))
		}
		if err := client.RemoveObject(ctx, *bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		slog.Info("verified and deleted", slog.String("key", key))
	}

	if err := client.RemoveBucket(ctx, *bucket); err != nil {
		return fmt.Errorf("remove bucket: %w", err)
	}
	slog.Info("bucket removed", slog.String("bucket", *bucket))
	return nil
}

// ensureBucket creates the bucket, tolerating a concurrent or earlier create.
func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
	if err == nil {
		slog.Info("bucket created", slog.String("bucket", bucket))
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "BucketAlreadyExists" {
		slog.Info("bucket already exists", slog.String("bucket", bucket))
		return nil
	}
	return fmt.Errorf("create bucket: %w", err)
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("s3drive failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
