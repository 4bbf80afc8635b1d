package policy

import (
	"sort"

	"podstash/internal/domain"
)

// Evaluate returns the delete actions a retention policy yields for the
// episodes of one podcast. It performs no I/O.
//
// keepLatest orders by publish date, newest first, with episodes lacking a
// date treated as oldest. deleteOlderThan never selects undated episodes.
func Evaluate(p domain.StoragePolicy, episodes []domain.Episode) []domain.Action {
	switch p.Kind {
	case domain.PolicyKeepLatest:
		return keepLatest(p.Count, episodes)
	case domain.PolicyDeleteOlderThan:
		return deleteOlderThan(p, episodes)
	default:
		return nil
	}
}

func keepLatest(count int, episodes []domain.Episode) []domain.Action {
	if count < 0 {
		count = 0
	}
	if len(episodes) <= count {
		return nil
	}

	ordered := make([]domain.Episode, len(episodes))
	copy(ordered, episodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].PublishedAt, ordered[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	actions := make([]domain.Action, 0, len(ordered)-count)
	for _, ep := range ordered[count:] {
		actions = append(actions, domain.DeleteEpisode(ep.ID))
	}
	return actions
}

func deleteOlderThan(p domain.StoragePolicy, episodes []domain.Episode) []domain.Action {
	var actions []domain.Action
	for _, ep := range episodes {
		if ep.PublishedAt == nil {
			continue
		}
		if ep.PublishedAt.Before(p.Cutoff) {
			actions = append(actions, domain.DeleteEpisode(ep.ID))
		}
	}
	return actions
}
