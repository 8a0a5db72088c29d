package conversation

import "github.com/papercomputeco/koziky/pkg/model"

// Merge appends the conversations of src that dst does not already hold.
// Ids are opaque and minted once, so an id present in dst is the same
// conversation and is skipped. The result keeps dst's order first.
func Merge(dst, src []model.Conversation) (merged []model.Conversation, added, skipped int) {
	seen := make(map[string]struct{}, len(dst)+len(src))
	merged = make([]model.Conversation, 0, len(dst)+len(src))
	for _, c := range dst {
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
	}

	for _, c := range src {
		if _, ok := seen[c.ID]; ok {
			skipped++
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, c.Clone())
		added++
	}
	return merged, added, skipped
}
