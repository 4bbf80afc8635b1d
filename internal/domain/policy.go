package domain

import "time"

type PolicyKind int

const (
	PolicyKeepLatest PolicyKind = iota + 1
	PolicyDeleteOlderThan
)

// StoragePolicy is a retention rule evaluated per podcast. Build one with
// KeepLatest or DeleteOlderThan.
type StoragePolicy struct {
	Kind   PolicyKind
	Count  int
	Cutoff time.Time
}

func KeepLatest(count int) StoragePolicy {
	return StoragePolicy{Kind: PolicyKeepLatest, Count: count}
}

func DeleteOlderThan(cutoff time.Time) StoragePolicy {
	return StoragePolicy{Kind: PolicyDeleteOlderThan, Cutoff: cutoff}
}

type ActionKind int

const (
	ActionDeleteEpisode ActionKind = iota + 1
)

// Action is an intent produced by policy evaluation. Applying it is the
// orchestrator's job.
type Action struct {
	Kind      ActionKind
	EpisodeID string
}

func DeleteEpisode(id string) Action {
	return Action{Kind: ActionDeleteEpisode, EpisodeID: id}
}
