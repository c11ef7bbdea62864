package sigv4

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testAccessKey = "AKIDEXAMPLE"
	testSecret    = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
	testAmzDate   = "20250101T120000Z"
	testRegion    = "us-east-1"
)

func testStore() *StaticCredentialsStore {
	return NewStaticStore([]AccessKey{{AccessKey: testAccessKey, SecretKey: testSecret, User: "u"}})
}

func signedGet(t *testing.T, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("X-Amz-Date", testAmzDate)
	r.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
	SignRequest(r, testAccessKey, testSecret, testAmzDate, testRegion,
		[]string{"host", "x-amz-date", "x-amz-content-sha256"}, unsignedPayload)
	return r
}

func TestVerifyRequestHeaderSucceeds(t *testing.T) {
	r := signedGet(t, "http://example.com/bucket/object.txt")
	if err := VerifyRequest(context.Background(), r, testStore()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRequestSignedPayload(t *testing.T) {
	body := []byte("hello body")
	r := httptest.NewRequest(http.MethodPut, "http://example.com/bucket/obj", strings.NewReader(string(body)))
	hash := PayloadHash(body)
	r.Header.Set("X-Amz-Date", testAmzDate)
	r.Header.Set("X-Amz-Content-Sha256", hash)
	SignRequest(r, testAccessKey, testSecret, testAmzDate, testRegion,
		[]string{"host", "x-amz-date", "x-amz-content-sha256"}, hash)

	if err := VerifyRequest(context.Background(), r, testStore()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRequestBadSignatureFails(t *testing.T) {
	r := signedGet(t, "http://example.com/bucket/obj")
	auth := r.Header.Get("Authorization")
	// Corrupt the first signature byte.
	i := strings.Index(auth, "Signature=")
	corrupt := auth[:i+len("Signature=")] + "00" + auth[i+len("Signature=")+2:]
	r.Header.Set("Authorization", corrupt)

	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRequestTamperedPathFails(t *testing.T) {
	r := signedGet(t, "http://example.com/bucket/obj")
	r.URL.Path = "/bucket/other"

	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRequestUnknownKeyFails(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/bucket/obj", nil)
	r.Header.Set("X-Amz-Date", testAmzDate)
	SignRequest(r, "AKIDUNKNOWN", "other-secret", testAmzDate, testRegion,
		[]string{"host", "x-amz-date"}, unsignedPayload)

	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrAuthInvalid) {
		t.Fatalf("expected ErrAuthInvalid, got %v", err)
	}
}

func TestVerifyRequestMissingAuth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/bucket/obj", nil)
	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrAuthMissing) {
		t.Fatalf("expected ErrAuthMissing, got %v", err)
	}
}

func TestVerifyRequestRejectsPresigned(t *testing.T) {
	// A valid access key in the query string is not authentication; presigned
	// requests fail closed even for known keys.
	r := httptest.NewRequest(http.MethodGet, "http://example.com/bucket/data.bin", nil)
	q := r.URL.Query()
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", fmt.Sprintf("%s/20250101/%s/s3/aws4_request", testAccessKey, testRegion))
	q.Set("X-Amz-Date", testAmzDate)
	q.Set("X-Amz-SignedHeaders", "host")
	q.Set("X-Amz-Signature", "deadbeef")
	r.URL.RawQuery = q.Encode()

	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrAuthInvalid) {
		t.Fatalf("expected ErrAuthInvalid, got %v", err)
	}

	// A lone X-Amz-Signature parameter does not fall through to header auth.
	r = signedGet(t, "http://example.com/bucket/data.bin?X-Amz-Signature=deadbeef")
	if err := VerifyRequest(context.Background(), r, testStore()); !errors.Is(err, ErrAuthInvalid) {
		t.Fatalf("expected ErrAuthInvalid, got %v", err)
	}
}

func TestCanonicalQuerySorting(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/test?b=2&a=3&a=1&space=a%20b", nil)
	got := canonicalQuery(r.URL.Query())
	want := "a=1&a=3&b=2&space=a%20b"
	if got != want {
		t.Fatalf("canonical query mismatch: got %q want %q", got, want)
	}
}

func TestCanonicalURIEncoding(t *testing.T) {
	got := canonicalURI("/bkt/dir with space/f~x.txt")
	want := "/bkt/dir%20with%20space/f~x.txt"
	if got != want {
		t.Fatalf("canonical uri mismatch: got %q want %q", got, want)
	}
}

func TestMiddlewareDeniesAndExempts(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	exempt := func(r *http.Request) bool { return r.URL.Path == "/livez" }
	h := Middleware(testStore(), exempt)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/bucket/obj", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned request: status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "AccessDenied") {
		t.Fatalf("expected AccessDenied envelope, got %q", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/livez", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("exempt path: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedGet(t, "http://example.com/bucket/obj"))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed request: status %d", rec.Code)
	}
}
