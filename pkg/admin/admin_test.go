package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bucketd/pkg/engine"
	"bucketd/pkg/metadata"
	"bucketd/pkg/storage"
)

func newAdminServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(context.Background(), metadata.NewMemoryRegistry(), storage.NewMemoryBlobStore())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ts := httptest.NewServer(NewMux(eng, "test"))
	t.Cleanup(ts.Close)
	return ts, eng
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newAdminServer(t)

	resp, err := http.Get(ts.URL + "/admin/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health body %v", health)
	}

	resp, err = http.Get(ts.URL + "/admin/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ver map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ver); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ver["version"] != "test" {
		t.Fatalf("version body %v", ver)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, eng := newAdminServer(t)
	ctx := context.Background()

	if err := eng.CreateBucket(ctx, "bkt"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.PutObject(ctx, "bkt", "k", []byte("12345"), -1); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/admin/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st engine.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Buckets != 1 || st.Objects != 1 || st.Bytes != 5 {
		t.Fatalf("stats %+v", st)
	}
}

func TestBucketEmpty(t *testing.T) {
	ts, eng := newAdminServer(t)
	ctx := context.Background()

	if err := eng.CreateBucket(ctx, "bkt"); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, err := eng.PutObject(ctx, "bkt", k, []byte(k), -1); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Post(ts.URL+"/admin/buckets/empty?bucket=bkt", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var st EmptyStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Listed != 3 || st.Deleted != 3 || st.Failed != 0 {
		t.Fatalf("stats %+v", st)
	}

	infos, err := eng.ListObjects(ctx, "bkt")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("bucket not emptied: %d left", len(infos))
	}
	// Bucket itself survives the empty pass.
	if err := eng.DeleteBucket(ctx, "bkt"); err != nil {
		t.Fatalf("delete emptied bucket: %v", err)
	}
}

func TestBucketEmptyErrors(t *testing.T) {
	ts, _ := newAdminServer(t)

	resp, err := http.Post(ts.URL+"/admin/buckets/empty", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing bucket: status %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/admin/buckets/empty?bucket=nope", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown bucket: status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/admin/buckets/empty?bucket=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d", resp.StatusCode)
	}
}
