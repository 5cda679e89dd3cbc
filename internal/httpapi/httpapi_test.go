package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"podcastcrawler/internal/httpapi"
	"podcastcrawler/internal/taskmanager"
)

type fakeSubmitter struct {
	nextID    int64
	submitErr error
	tasks     map[int64]taskmanager.Snapshot
	batchIDs  []int64
	batchErrs []taskmanager.SubmitError
}

func (f *fakeSubmitter) SubmitTask(rawURL string) (int64, error) {
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.nextID++
	if f.tasks == nil {
		f.tasks = make(map[int64]taskmanager.Snapshot)
	}
	f.tasks[f.nextID] = taskmanager.Snapshot{TaskID: f.nextID, URL: rawURL, Status: taskmanager.StatusPending}
	return f.nextID, nil
}

func (f *fakeSubmitter) SubmitBatch(urls []string) ([]int64, []taskmanager.SubmitError) {
	return f.batchIDs, f.batchErrs
}

func (f *fakeSubmitter) GetTask(id int64) (taskmanager.Snapshot, bool) {
	s, ok := f.tasks[id]
	return s, ok
}

func (f *fakeSubmitter) AllTasks() []taskmanager.Snapshot {
	out := make([]taskmanager.Snapshot, 0, len(f.tasks))
	for _, s := range f.tasks {
		out = append(out, s)
	}
	return out
}

func newTestServer(sub *fakeSubmitter) http.Handler {
	s := httpapi.New(sub, nil, nil, nil, nil, httpapi.Config{})
	return s.Handler()
}

func TestAddTaskSuccess(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestServer(sub)

	body, _ := json.Marshal(map[string]string{"rss_url": "https://example.com/feed.xml"})
	req := httptest.NewRequest(http.MethodPost, "/add_task", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID != 1 {
		t.Fatalf("task_id=%d want 1", resp.TaskID)
	}
}

func TestAddTaskInvalidBody(t *testing.T) {
	h := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest(http.MethodPost, "/add_task", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rec.Code)
	}
}

func TestAddTaskShutdownInProgress(t *testing.T) {
	sub := &fakeSubmitter{submitErr: taskmanagerErrShutdown()}
	h := newTestServer(sub)

	body, _ := json.Marshal(map[string]string{"rss_url": "https://example.com/feed.xml"})
	req := httptest.NewRequest(http.MethodPost, "/add_task", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rec.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	h := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
}

func TestHealthCheckHealthy(t *testing.T) {
	h := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
}

// taskmanagerErrShutdown returns a submission error reporting
// ErrShutdownInProgress, exercising the same code path SubmitTask takes
// when the manager is draining.
func taskmanagerErrShutdown() error {
	return shutdownErr{}
}

type shutdownErr struct{}

func (shutdownErr) Error() string               { return "shutdown in progress" }
func (shutdownErr) Kind() taskmanager.ErrorKind { return taskmanager.ErrShutdownInProgress }
