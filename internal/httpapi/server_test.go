package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/kv"
	"github.com/WINGS-N/unica-wb/internal/model"
	"github.com/WINGS-N/unica-wb/internal/queue"
	"github.com/WINGS-N/unica-wb/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(context.Background(), filepath.Join(dir, "test.sqlite"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	kvClient, err := kv.New("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("kv.New: %v", err)
	}
	t.Cleanup(func() { kvClient.Close() })

	b := broker.New(kvClient)
	buildsQueue := queue.NewQueue(kvClient.Raw(), queue.BuildsQueue, nil)
	controlsQueue := queue.NewQueue(kvClient.Raw(), queue.ControlsQueue, nil)

	deps := Deps{
		Jobs:          db,
		Uploads:       db,
		Settings:      db,
		Pinger:        db,
		Broker:        b,
		BuildsQueue:   buildsQueue,
		ControlsQueue: controlsQueue,
	}
	return New(deps), db
}

func insertTestJob(t *testing.T, db *store.Store, status model.Status) *model.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &model.Job{
		ID:             "job-" + string(status),
		Kind:           model.KindBuild,
		Target:         "b0s",
		BuildSignature: "sig",
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return job
}

func TestHealthzAndReadyz(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router(nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200, body=%s", path, w.Code, w.Body.String())
		}
	}
}

func TestGetJobNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetAndListJobs(t *testing.T) {
	s, db := newTestServer(t)
	job := insertTestJob(t, db, model.StatusQueued)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /jobs/%s: status = %d, body=%s", job.ID, w.Code, w.Body.String())
	}
	var got model.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("got id %q, want %q", got.ID, job.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /jobs: status = %d", w.Code)
	}
	var list []*model.Job
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
}

func TestStopJobOnTerminalJobIsNoop(t *testing.T) {
	s, db := newTestServer(t)
	job := insertTestJob(t, db, model.StatusSucceeded)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/stop", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for already-terminal job, body=%s", w.Code, w.Body.String())
	}
}

func TestStopJobRejectsUnknownSignal(t *testing.T) {
	s, db := newTestServer(t)
	job := insertTestJob(t, db, model.StatusRunning)
	router := s.Router(nil)

	body := `{"signal_type":"sigwhat"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/stop", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStopJobEnqueuesControlItem(t *testing.T) {
	s, db := newTestServer(t)
	job := insertTestJob(t, db, model.StatusRunning)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/stop", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}
}

func TestSetPasswordThenLoginRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/password", strings.NewReader(`{"password":"hunter2"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("set password: status = %d, body=%s", w.Code, w.Body.String())
	}

	// Unauthenticated requests now fail once a password is configured.
	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /jobs: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"hunter2"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated /jobs: status = %d, body=%s", w.Code, w.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/password", strings.NewReader(`{"password":"correct-horse"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("set password: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"wrong"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
