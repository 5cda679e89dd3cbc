package taskmanager

import (
	"net/url"
	"sort"
	"strings"
)

// unhostedBucket is the sort/partition key for a URL whose host cannot be
// determined.
const unhostedBucket = "\x00unhosted"

// Assignment pairs a batch position with the worker it was dealt to.
type Assignment struct {
	Index  int // position in the caller's input slice
	Worker int
}

// registrableHost returns the lowercased hostname used to cluster URLs by
// site, or unhostedBucket if the URL has none.
func registrableHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return unhostedBucket
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return unhostedBucket
	}
	return host
}

// distributeBatch assigns each URL in urls to one of workers worker inboxes.
//
// Same-host URLs are sorted to cluster together, then dealt round-robin
// across workers: the k-th URL in host-sorted order goes to worker k mod
// workers. Adjacent sorted entries differ in worker index by one, so a
// host with H occurrences lands at most ceil(H/workers) times in any single
// worker's inbox. The returned assignments are indexed by the original
// position in urls, not the sorted order, so callers can enqueue while
// preserving input order for returned task ids.
func distributeBatch(urls []string, workers int) []Assignment {
	if workers <= 0 {
		workers = 1
	}

	type keyed struct {
		index int
		host  string
	}

	sorted := make([]keyed, len(urls))
	for i, u := range urls {
		sorted[i] = keyed{index: i, host: registrableHost(u)}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].host < sorted[j].host
	})

	assignments := make([]Assignment, len(urls))
	for k, entry := range sorted {
		assignments[entry.index] = Assignment{Index: entry.index, Worker: k % workers}
	}

	return assignments
}

// distributeSingle assigns one task_id to a worker for the non-batch
// submission path: task_id mod workers.
func distributeSingle(taskID int64, workers int) int {
	if workers <= 0 {
		workers = 1
	}
	w := int(taskID % int64(workers))
	if w < 0 {
		w += workers
	}
	return w
}
