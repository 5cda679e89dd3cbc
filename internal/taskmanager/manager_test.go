package taskmanager

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastcrawler/internal/feed"
	"podcastcrawler/internal/fetcher"
	"podcastcrawler/internal/hosthealth"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Test Show</title>
<item>
  <title>Episode 1</title>
  <guid>ep-1</guid>
  <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  <enclosure url="https://cdn.example.com/ep1.mp3" />
</item>
</channel></rss>`

func newTestManager(t *testing.T, handler http.HandlerFunc) (*TaskManager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	f := fetcher.New(fetcher.Config{
		RequestTimeout:   time.Second,
		MaxBodyBytes:     1 << 20,
		UserAgent:        "test",
		MaxConcurrentReq: 100,
	}, nil)
	p := feed.NewParser(feed.DefaultOptions())
	hosts := hosthealth.NewTracker(hosthealth.DefaultConfig, nil)

	tm := New(Config{
		MaxConcurrency:  2,
		InboxCapacity:   8,
		MaxRetries:      0,
		RequestTimeout:  time.Second,
		SubmitTimeout:   time.Second,
		ShutdownTimeout: time.Second,
	}, f, p, nil, hosts)

	return tm, srv
}

func TestSubmitTaskCompletesSuccessfully(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	})
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	id, err := tm.SubmitTask(srv.URL)
	require.NoError(t, err)

	snapshots := tm.WaitForAll(2 * time.Second)
	require.Len(t, snapshots, 1)
	assert.Equal(t, id, snapshots[0].TaskID)
	assert.Equal(t, StatusCompleted, snapshots[0].Status)
	assert.False(t, snapshots[0].TimedOut)
}

func TestSubmitTaskRejectsInvalidURL(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	_, err := tm.SubmitTask("not-a-url")
	require.Error(t, err)

	kinder, ok := err.(interface{ Kind() ErrorKind })
	require.True(t, ok)
	assert.Equal(t, ErrInvalidURL, kinder.Kind())
}

func TestSubmitTaskFailsOn404(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	_, err := tm.SubmitTask(srv.URL)
	require.NoError(t, err)

	snapshots := tm.WaitForAll(2 * time.Second)
	require.Len(t, snapshots, 1)
	assert.Equal(t, StatusFailed, snapshots[0].Status)
}

func TestSubmitBatchReturnsTaskIDsInInputOrder(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	})
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	urls := []string{srv.URL, "bad-url", srv.URL}
	ids, errs := tm.SubmitBatch(urls)

	require.Len(t, ids, 3)
	assert.NotEqual(t, int64(-1), ids[0])
	assert.Equal(t, int64(-1), ids[1])
	assert.NotEqual(t, int64(-1), ids[2])
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)

	tm.WaitForAll(2 * time.Second)
}

func TestSubmitBatchEmptyIsANoOp(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	ids, errs := tm.SubmitBatch(nil)
	assert.Empty(t, ids)
	assert.Empty(t, errs)
	assert.Empty(t, tm.AllTasks())
}

func TestOnResultCallbackFiresWithParsedFeed(t *testing.T) {
	tm, srv := newTestManagerWithOnResult(t)
	defer srv.Close()
	defer tm.Shutdown(time.Second)

	_, err := tm.SubmitTask(srv.URL)
	require.NoError(t, err)

	tm.WaitForAll(2 * time.Second)
}

func newTestManagerWithOnResult(t *testing.T) (*TaskManager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))

	f := fetcher.New(fetcher.Config{RequestTimeout: time.Second, MaxBodyBytes: 1 << 20, UserAgent: "test"}, nil)
	p := feed.NewParser(feed.DefaultOptions())
	hosts := hosthealth.NewTracker(hosthealth.DefaultConfig, nil)

	results := make(chan *TaskResult, 1)
	tm := New(Config{
		MaxConcurrency:  1,
		InboxCapacity:   8,
		SubmitTimeout:   time.Second,
		ShutdownTimeout: time.Second,
		OnResult: func(r *TaskResult) {
			results <- r
		},
	}, f, p, nil, hosts)

	t.Cleanup(func() {
		select {
		case r := <-results:
			assert.True(t, r.Success)
			assert.NotNil(t, r.Data)
			assert.Equal(t, "Test Show", r.Data.Title)
		case <-time.After(2 * time.Second):
			t.Error("OnResult callback never fired")
		}
	})

	return tm, srv
}

func TestWaitForAllReportsTimeout(t *testing.T) {
	// The handler never responds within the test's WaitForAll window, so
	// the submitted task is still InProgress when the timeout fires. The
	// handler stays blocked until the test returns; the deferred
	// close(block) runs before srv.Close, so the server can shut down. The
	// manager is never shut down, so the late result goes to a report
	// channel that is still open.
	block := make(chan struct{})
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer srv.Close()
	defer close(block)

	_, err := tm.SubmitTask(srv.URL)
	require.NoError(t, err)

	snapshots := tm.WaitForAll(50 * time.Millisecond)
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].TimedOut)
}

func TestRetriesTransient5xxThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := fetcher.New(fetcher.Config{
		RequestTimeout:   time.Second,
		MaxBodyBytes:     1 << 20,
		UserAgent:        "test",
		MaxConcurrentReq: 100,
	}, nil)
	p := feed.NewParser(feed.DefaultOptions())

	tm := New(Config{
		MaxConcurrency:  1,
		InboxCapacity:   8,
		MaxRetries:      3,
		RequestTimeout:  time.Second,
		BackoffBase:     time.Millisecond,
		BackoffCap:      10 * time.Millisecond,
		SubmitTimeout:   time.Second,
		ShutdownTimeout: time.Second,
	}, f, p, nil, hosthealth.NewTracker(hosthealth.DefaultConfig, nil))
	defer tm.Shutdown(time.Second)

	_, err := tm.SubmitTask(srv.URL)
	require.NoError(t, err)

	snapshots := tm.WaitForAll(5 * time.Second)
	require.Len(t, snapshots, 1)
	assert.Equal(t, StatusCompleted, snapshots[0].Status)
	assert.Equal(t, uint(3), snapshots[0].Attempts)
}

func TestShutdownAbortsInFlightAndQueuedTasks(t *testing.T) {
	block := make(chan struct{})
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer srv.Close()
	defer close(block)

	for i := 0; i < 3; i++ {
		_, err := tm.SubmitTask(srv.URL)
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, tm.Shutdown(2*time.Second))

	snapshots := tm.AllTasks()
	require.Len(t, snapshots, 3)
	for _, snap := range snapshots {
		assert.Equal(t, StatusFailed, snap.Status)
		assert.Equal(t, ErrAborted, snap.ErrorKind)
		assert.False(t, snap.FinishedAt.Before(snap.SubmittedAt))
	}
}

func TestShutdownIsIdempotentAndRejectsNewSubmissions(t *testing.T) {
	tm, srv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	})
	defer srv.Close()

	require.NoError(t, tm.Shutdown(time.Second))
	require.NoError(t, tm.Shutdown(time.Second))

	_, err := tm.SubmitTask(srv.URL)
	require.Error(t, err)
	kinder, ok := err.(interface{ Kind() ErrorKind })
	require.True(t, ok)
	assert.Equal(t, ErrShutdownInProgress, kinder.Kind())
}
