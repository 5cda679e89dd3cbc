package hosthealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DegradedAfter:  2,
		SuspendedAfter: 4,
		PenaltyStep:    time.Second,
		MaxPenalty:     10 * time.Second,
		Forgive:        50 * time.Millisecond,
	}
}

func TestHealthyHostHasNoPenalty(t *testing.T) {
	tr := NewTracker(testConfig(), nil)

	assert.Equal(t, time.Duration(0), tr.Penalty("a.example.com"))
	assert.Equal(t, LevelHealthy, tr.Level("a.example.com"))

	tr.ReportFailure("a.example.com")
	assert.Equal(t, time.Duration(0), tr.Penalty("a.example.com"),
		"a single failure is below DegradedAfter and carries no penalty")
}

func TestPenaltyGrowsWithConsecutiveFailures(t *testing.T) {
	tr := NewTracker(testConfig(), nil)
	host := "b.example.com"

	tr.ReportFailure(host)
	tr.ReportFailure(host)
	assert.Equal(t, time.Second, tr.Penalty(host))
	assert.Equal(t, LevelDegraded, tr.Level(host))

	tr.ReportFailure(host)
	assert.Equal(t, 2*time.Second, tr.Penalty(host))
}

func TestSuspendedHostPinsToMaxPenalty(t *testing.T) {
	tr := NewTracker(testConfig(), nil)
	host := "c.example.com"

	for i := 0; i < 6; i++ {
		tr.ReportFailure(host)
	}
	assert.Equal(t, 10*time.Second, tr.Penalty(host))
	assert.Equal(t, LevelSuspended, tr.Level(host))
}

func TestSuccessClearsTheStreak(t *testing.T) {
	tr := NewTracker(testConfig(), nil)
	host := "d.example.com"

	tr.ReportFailure(host)
	tr.ReportFailure(host)
	require.Equal(t, LevelDegraded, tr.Level(host))

	tr.ReportSuccess(host)
	assert.Equal(t, LevelHealthy, tr.Level(host))
	assert.Equal(t, time.Duration(0), tr.Penalty(host))
}

func TestQuietHostIsForgiven(t *testing.T) {
	tr := NewTracker(testConfig(), nil)
	host := "e.example.com"

	tr.ReportFailure(host)
	tr.ReportFailure(host)
	require.Equal(t, LevelDegraded, tr.Level(host))

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, LevelHealthy, tr.Level(host))
	assert.Equal(t, time.Duration(0), tr.Penalty(host))
}

func TestSnapshotReportsAllHosts(t *testing.T) {
	tr := NewTracker(testConfig(), nil)
	tr.ReportFailure("a.example.com")
	tr.ReportSuccess("b.example.com")

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 1, snap["a.example.com"].ConsecutiveFailures)
	assert.NotNil(t, snap["a.example.com"].LastFailure)
	assert.NotNil(t, snap["b.example.com"].LastSuccess)
}
