package types

// SessionMeta is the summary metadata for one session.
// Timestamps are UNIX seconds.
type SessionMeta struct {
	ID           string  `json:"id"`
	Created      float64 `json:"created"`
	LastModified float64 `json:"last_modified"`
	NEvents      int     `json:"n_events"`
}

// SaveMeta is the metadata for a saved (non-interactive) session.
// Server-local filesystem fields are ignored.
type SaveMeta struct {
	SessionMeta
	GroupingPrefix []string `json:"grouping_prefix"`
}

// SessionState is the full point-in-time snapshot of a session: every node in
// the tree plus the suggestion history. Loading one into a store is a total
// replace, not a merge.
type SessionState struct {
	SessionMeta
	State             []KaniState  `json:"state"`
	SuggestionHistory []Suggestion `json:"suggestion_history"`
}
