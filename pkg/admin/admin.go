package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bucketd/pkg/engine"
)

// ObjectEngine is the subset of the storage engine the admin plane needs.
type ObjectEngine interface {
	ListObjects(ctx context.Context, bucket string) ([]engine.ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	Stats(ctx context.Context) (engine.Stats, error)
}

// EmptyStats summarizes a bucket-empty pass.
type EmptyStats struct {
	Listed  int `json:"listed"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// RunBucketEmpty deletes every object in the bucket, best effort: individual
// delete failures are logged and counted, not fatal. The bucket itself is left
// in place so a follow-up DeleteBucket can remove it.
func RunBucketEmpty(ctx context.Context, eng ObjectEngine, bucket string) (EmptyStats, error) {
	var res EmptyStats
	infos, err := eng.ListObjects(ctx, bucket)
	if err != nil {
		return res, err
	}
	res.Listed = len(infos)
	for _, in := range infos {
		if derr := eng.DeleteObject(ctx, bucket, in.Key); derr != nil {
			res.Failed++
			slog.Error("admin: empty bucket delete",
				slog.String("bucket", bucket),
				slog.String("key", in.Key),
				slog.String("error", derr.Error()))
			continue
		}
		res.Deleted++
	}
	return res, nil
}

// NewBucketEmptyHandler returns the POST /admin/buckets/empty handler. The
// target bucket comes from the ?bucket= query parameter; the response is a
// JSON EmptyStats.
func NewBucketEmptyHandler(eng ObjectEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		bucket := r.URL.Query().Get("bucket")
		if bucket == "" {
			http.Error(w, "missing bucket parameter", http.StatusBadRequest)
			return
		}
		res, err := RunBucketEmpty(r.Context(), eng, bucket)
		if err != nil {
			if engine.IsKind(err, engine.KindNoSuchBucket) {
				http.Error(w, "no such bucket", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to empty bucket: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}
}

// NewStatsHandler returns the GET /admin/stats handler with engine totals.
func NewStatsHandler(eng ObjectEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st, err := eng.Stats(r.Context())
		if err != nil {
			http.Error(w, "stats: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}

// NewHealthHandler returns the GET /admin/health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// NewVersionHandler returns the GET /admin/version handler.
func NewVersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version})
	}
}

// NewMux assembles the admin routes on a fresh ServeMux.
func NewMux(eng ObjectEngine, version string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", NewHealthHandler())
	mux.HandleFunc("/admin/version", NewVersionHandler(version))
	mux.HandleFunc("/admin/stats", NewStatsHandler(eng))
	mux.HandleFunc("/admin/buckets/empty", NewBucketEmptyHandler(eng))
	return mux
}
