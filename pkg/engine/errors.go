package engine

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories an engine operation can
// surface. Every failure is one of these; none of them should terminate the
// process.
type Kind int

const (
	KindInternal Kind = iota
	KindBucketAlreadyExists
	KindNoSuchBucket
	KindNoSuchKey
	KindBucketNotEmpty
	KindInvalidArgument
)

// String returns the canonical name of the kind, matching the S3 error codes
// callers branch on.
func (k Kind) String() string {
	switch k {
	case KindBucketAlreadyExists:
		return "BucketAlreadyExists"
	case KindNoSuchBucket:
		return "NoSuchBucket"
	case KindNoSuchKey:
		return "NoSuchKey"
	case KindBucketNotEmpty:
		return "BucketNotEmpty"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "InternalError"
	}
}

// Error is the typed failure returned by all engine operations.
type Error struct {
	Kind   Kind
	Op     string // engine operation, e.g. "PutObject"
	Bucket string
	Key    string
	Err    error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	target := e.Bucket
	if e.Key != "" {
		target = e.Bucket + "/" + e.Key
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, target, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, target, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. A nil error has no kind and
// reports KindInternal only for non-nil unclassified errors.
func KindOf(err error) (Kind, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return KindInternal, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

func opErr(kind Kind, op, bucket, key string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Bucket: bucket, Key: key, Err: cause}
}
