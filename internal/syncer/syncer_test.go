package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/config"
	"github.com/zorosafi2003/CenterPhoneApp/internal/localstore"
	"github.com/zorosafi2003/CenterPhoneApp/internal/session"
	"github.com/zorosafi2003/CenterPhoneApp/internal/store"
)

func newTestRepo(t *testing.T) *localstore.Repository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return localstore.NewRepository(db.Client)
}

func newTestSession(t *testing.T) *session.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	creds := `{"email":"t1@example.com","token":"tok-1","fullName":"Teacher One"}`
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	m := session.NewManager(path)
	if !m.Restore() {
		t.Fatal("restore session")
	}
	return m
}

func newClient(srv *httptest.Server) *api.Client {
	eps := config.DefaultEndpoints()
	eps.BaseURL = srv.URL
	return api.New(eps, 5*time.Second)
}

// confirmAll responds to /attendance/set confirming every submitted local id
// and records the size of each batch it saw.
func confirmAll(t *testing.T, batchSizes *[]int, calls *atomic.Int64) http.HandlerFunc {
	var mu sync.Mutex
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Data []api.BatchEntry `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		ids := make([]string, 0, len(body.Data))
		for _, e := range body.Data {
			ids = append(ids, e.LocalID)
		}
		mu.Lock()
		*batchSizes = append(*batchSizes, len(body.Data))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]any{"insertedLocalIdArr": ids},
		})
	}
}

func seedRecords(t *testing.T, repo *localstore.Repository, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Duration(n) * time.Second)
	for i := 0; i < n; i++ {
		_, err := repo.SaveAttendanceRecord(ctx, localstore.AttendanceRecord{
			ID:        fmt.Sprintf("rec-%03d", i),
			CenterID:  "c1",
			Code:      fmt.Sprintf("CODE-%03d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func TestExportBatchPartitioning(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, 250)

	var sizes []int
	var calls atomic.Int64
	srv := httptest.NewServer(confirmAll(t, &sizes, &calls))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))
	stats, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Batches != 3 {
		t.Fatalf("batches = %d, want 3", stats.Batches)
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("batch sizes = %v, want [100 100 50]", sizes)
	}
	if stats.Confirmed != 250 || stats.Remaining != 0 {
		t.Fatalf("confirmed/remaining = %d/%d", stats.Confirmed, stats.Remaining)
	}
}

func TestExportConfirmedOnlyDeletion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedRecords(t, repo, 3)

	// Confirm everything except rec-001.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data []api.BatchEntry `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var ids []string
		for _, e := range body.Data {
			if e.LocalID != "rec-001" {
				ids = append(ids, e.LocalID)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]any{"insertedLocalIdArr": ids},
		})
	}))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))
	stats, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Confirmed != 2 || stats.Remaining != 1 {
		t.Fatalf("confirmed/remaining = %d/%d, want 2/1", stats.Confirmed, stats.Remaining)
	}

	recs, err := repo.ListAttendanceRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "rec-001" {
		t.Fatalf("expected only rec-001 to stay queued, got %+v", recs)
	}

	// The next cycle re-submits the unconfirmed record.
	stats, err = s.Export(ctx)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if stats.Loaded != 1 {
		t.Fatalf("second cycle loaded = %d, want 1", stats.Loaded)
	}
}

func TestExportEmptyQueueMakesNoNetworkCalls(t *testing.T) {
	repo := newTestRepo(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))
	stats, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Loaded != 0 || stats.Batches != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if calls.Load() != 0 {
		t.Fatalf("network calls = %d, want 0", calls.Load())
	}
}

func TestExportSingleFlight(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(entered)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]any{"insertedLocalIdArr": []string{}},
		})
	}))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Export(context.Background()); err != nil {
			t.Errorf("export: %v", err)
		}
	}()

	<-entered
	stats, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if !stats.Skipped {
		t.Fatal("overlapping trigger was not dropped")
	}

	close(release)
	<-done

	if calls.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", calls.Load())
	}
}

func TestExportBatchFailureContinues(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedRecords(t, repo, 150)

	var call atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if call.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body struct {
			Data []api.BatchEntry `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		ids := make([]string, 0, len(body.Data))
		for _, e := range body.Data {
			ids = append(ids, e.LocalID)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]any{"insertedLocalIdArr": ids},
		})
	}))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))
	stats, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Batches != 2 || stats.Failed != 1 {
		t.Fatalf("batches/failed = %d/%d, want 2/1", stats.Batches, stats.Failed)
	}
	if stats.Confirmed != 50 || stats.Remaining != 100 {
		t.Fatalf("confirmed/remaining = %d/%d, want 50/100", stats.Confirmed, stats.Remaining)
	}
}

func TestExportUnauthorizedForcesLogoutAndStops(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, 250)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := newTestSession(t)
	s := New(repo, newClient(srv), sess)
	_, err := s.Export(context.Background())
	if !errors.Is(err, api.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("network calls = %d, want 1 (no retry, no further batches)", calls.Load())
	}
	if sess.Authenticated() {
		t.Fatal("session still active after 401")
	}

	count, _ := repo.CountAttendanceRecords(context.Background())
	if count != 250 {
		t.Fatalf("queued records = %d, want 250 untouched", count)
	}
}

func TestExportEndToEndScenario(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.SaveAttendanceRecord(ctx, localstore.AttendanceRecord{ID: "1", CenterID: "C1", Code: "A"})
	if err != nil {
		t.Fatalf("save A: %v", err)
	}
	b, err := repo.SaveAttendanceRecord(ctx, localstore.AttendanceRecord{ID: "2", CenterID: "C1", Code: "B"})
	if err != nil {
		t.Fatalf("save B: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]any{"insertedLocalIdArr": []string{a.ID}},
		})
	}))
	defer srv.Close()

	s := New(repo, newClient(srv), newTestSession(t))
	if _, err := s.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}

	recs, err := repo.ListAttendanceRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != b.ID {
		t.Fatalf("expected only B queued, got %+v", recs)
	}
}
