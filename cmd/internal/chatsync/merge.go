package chatsync

import "sort"

// MergeTimeline combines a historical window and a live buffer into one
// de-duplicated sequence ordered by timestamp.
//
// Rules:
//   - Keyed by canonical id. Historical entries are authoritative: a live
//     message whose id is already present is skipped silently.
//   - A message without an id (optimistic, not yet persisted) is never
//     collapsed with anything; it stays distinct until confirmed.
//   - Stable sort ascending by SentAt; equal timestamps preserve insertion
//     order, historical before live.
//
// The function is pure and safe to re-run on every state change.
func MergeTimeline(historical, live []Message) []Message {
	seen := make(map[string]struct{}, len(historical)+len(live))
	out := make([]Message, 0, len(historical)+len(live))

	for _, m := range historical {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}
	for _, m := range live {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}
