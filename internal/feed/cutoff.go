package feed

import "time"

// IncludeEpisode reports whether ep should be kept when cutoff and/or
// initiation floors are configured. A zero floor is treated as "no floor".
// An episode with no publish date is excluded whenever either floor is set,
// since its age relative to the floor can't be determined.
func IncludeEpisode(ep Episode, cutoff, initiation time.Time) bool {
	if cutoff.IsZero() && initiation.IsZero() {
		return true
	}
	if !ep.HasDate {
		return false
	}

	published := ep.PublishedAt.UTC()
	if !cutoff.IsZero() && published.Before(cutoff.UTC()) {
		return false
	}
	if !initiation.IsZero() && published.Before(initiation.UTC()) {
		return false
	}
	return true
}

// FilterEpisodes returns the subset of episodes passing IncludeEpisode.
func FilterEpisodes(episodes []Episode, cutoff, initiation time.Time) []Episode {
	if cutoff.IsZero() && initiation.IsZero() {
		return episodes
	}
	kept := make([]Episode, 0, len(episodes))
	for _, ep := range episodes {
		if IncludeEpisode(ep, cutoff, initiation) {
			kept = append(kept, ep)
		}
	}
	return kept
}
