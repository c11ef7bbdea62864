package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bucketd/pkg/engine"
	"bucketd/pkg/metadata"
)

const xmlns = "http://s3.amazonaws.com/doc/2006-03-01/"

// storageEngine is the subset of the engine the wire layer needs.
// Dependencies are injected for testability.
type storageEngine interface {
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	ListBuckets(ctx context.Context) ([]metadata.Bucket, error)
	PutObject(ctx context.Context, bucket, key string, data []byte, declaredLen int64) (engine.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, engine.ObjectInfo, error)
	HeadObject(ctx context.Context, bucket, key string) (engine.ObjectInfo, error)
	ListObjects(ctx context.Context, bucket string) ([]engine.ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Limits bounds request sizes.
type Limits struct {
	SinglePutMaxBytes int64
}

// Server routes S3 requests onto the storage engine.
type Server struct {
	eng    storageEngine
	limits Limits
}

// New returns an S3 API server with default limits.
func New(eng storageEngine) *Server { return NewWithLimits(eng, Limits{}) }

// NewWithLimits returns an S3 API server with explicit limits. Zero values
// fall back to built-in defaults.
func NewWithLimits(eng storageEngine, l Limits) *Server {
	if l.SinglePutMaxBytes <= 0 {
		l.SinglePutMaxBytes = 5 * 1024 * 1024 * 1024 // 5 GiB
	}
	return &Server{eng: eng, limits: l}
}

// Handler returns an http.Handler for S3 routes.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.route)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		if r.Method == http.MethodGet {
			s.handleListBuckets(w, r)
			return
		}
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(p, "/", 2)
	bucketName := parts[0]
	var key string
	if len(parts) == 2 {
		key = parts[1]
	}

	if key == "" {
		s.handleBucket(w, r, bucketName)
		return
	}
	s.handleObject(w, r, bucketName, key)
}

// XML response types

type listBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Xmlns   string   `xml:"xmlns,attr"`
	Owner   owner    `xml:"Owner"`
	Buckets buckets  `xml:"Buckets"`
}

type owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type buckets struct {
	Bucket []bucket `xml:"Bucket"`
}

type bucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type listBucketResult struct {
	XMLName     xml.Name        `xml:"ListBucketResult"`
	Xmlns       string          `xml:"xmlns,attr"`
	Name        string          `xml:"Name"`
	Prefix      string          `xml:"Prefix"`
	MaxKeys     int             `xml:"MaxKeys"`
	IsTruncated bool            `xml:"IsTruncated"`
	Contents    []objectSummary `xml:"Contents"`
}

type objectSummary struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	bs, err := s.eng.ListBuckets(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	res := listBucketsResult{
		Xmlns: xmlns,
		Owner: owner{ID: "anonymous", DisplayName: "anonymous"},
	}
	for _, b := range bs {
		res.Buckets.Bucket = append(res.Buckets.Bucket, bucket{
			Name:         b.Name,
			CreationDate: b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPut:
		if err := s.eng.CreateBucket(r.Context(), name); err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := s.eng.DeleteBucket(r.Context(), name); err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.handleListObjects(w, r, name)
	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented", "Bucket operation not implemented", r.URL.Path, "")
	}
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, name string) {
	infos, err := s.eng.ListObjects(r.Context(), name)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	q := r.URL.Query()
	prefix := q.Get("prefix")
	maxKeys := 1000
	if raw := q.Get("max-keys"); raw != "" {
		if v, perr := strconv.Atoi(raw); perr == nil && v > 0 {
			maxKeys = v
		}
	}

	res := listBucketResult{
		Xmlns:   xmlns,
		Name:    name,
		Prefix:  prefix,
		MaxKeys: maxKeys,
	}
	for _, in := range infos {
		if prefix != "" && !strings.HasPrefix(in.Key, prefix) {
			continue
		}
		if len(res.Contents) == maxKeys {
			res.IsTruncated = true
			break
		}
		res.Contents = append(res.Contents, objectSummary{
			Key:          in.Key,
			LastModified: in.LastModified.UTC().Format(time.RFC3339),
			ETag:         quoteETag(in.ETag),
			Size:         in.Size,
			StorageClass: "STANDARD",
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	switch r.Method {
	case http.MethodPut:
		if r.ContentLength > s.limits.SinglePutMaxBytes {
			writeError(w, http.StatusBadRequest, "InvalidArgument",
				"Your proposed upload exceeds the maximum allowed object size.", r.URL.Path, "")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, s.limits.SinglePutMaxBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", "Failed to read request body.", r.URL.Path, "")
			return
		}
		if int64(len(body)) > s.limits.SinglePutMaxBytes {
			writeError(w, http.StatusBadRequest, "InvalidArgument",
				"Your proposed upload exceeds the maximum allowed object size.", r.URL.Path, "")
			return
		}
		info, perr := s.eng.PutObject(r.Context(), bucketName, key, body, r.ContentLength)
		if perr != nil {
			writeEngineError(w, r, perr)
			return
		}
		w.Header().Set("ETag", quoteETag(info.ETag))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, info, err := s.eng.GetObject(r.Context(), bucketName, key)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.Header().Set("ETag", quoteETag(info.ETag))
		w.Header().Set("Content-Length", itoa64(info.Size))
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodHead:
		info, err := s.eng.HeadObject(r.Context(), bucketName, key)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.Header().Set("ETag", quoteETag(info.ETag))
		w.Header().Set("Content-Length", itoa64(info.Size))
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := s.eng.DeleteObject(r.Context(), bucketName, key); err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "The specified method is not allowed against this resource.", r.URL.Path, "")
	}
}

func quoteETag(s string) string { return "\"" + s + "\"" }

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

// S3 error response encoding (minimal)
type s3Error struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

func writeError(w http.ResponseWriter, status int, code, message, resource, reqID string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: message, Resource: resource, RequestID: reqID})
}

// writeEngineError maps a typed engine failure to the S3 error envelope the
// SDK drivers branch on.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := engine.KindOf(err)
	if !ok {
		kind = engine.KindInternal
	}
	code := kind.String()
	var status int
	var message string
	switch kind {
	case engine.KindBucketAlreadyExists:
		status, message = http.StatusConflict, "The requested bucket name is not available."
	case engine.KindNoSuchBucket:
		status, message = http.StatusNotFound, "The specified bucket does not exist."
	case engine.KindNoSuchKey:
		status, message = http.StatusNotFound, "The specified key does not exist."
	case engine.KindBucketNotEmpty:
		status, message = http.StatusConflict, "The bucket you tried to delete is not empty."
	case engine.KindInvalidArgument:
		status, message = http.StatusBadRequest, "Invalid argument."
		var ee *engine.Error
		if errors.As(err, &ee) && ee.Op == "CreateBucket" {
			code, message = "InvalidBucketName", "The specified bucket is not valid."
		}
	default:
		status, message = http.StatusInternalServerError, "We encountered an internal error. Please try again."
	}
	writeError(w, status, code, message, r.URL.Path, "")
}
