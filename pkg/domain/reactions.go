package domain

// AddReaction merges userID into the emoji's reaction set, returning the
// updated map and whether anything changed. The input map is not mutated.
func AddReaction(reactions map[string][]string, emoji, userID string) (map[string][]string, bool) {
	for _, existing := range reactions[emoji] {
		if existing == userID {
			return cloneReactions(reactions), false
		}
	}
	out := cloneReactions(reactions)
	if out == nil {
		out = make(map[string][]string, 1)
	}
	out[emoji] = append(out[emoji], userID)
	return out, true
}

// RemoveReaction deletes userID from the emoji's reaction set. When the set
// empties the emoji key is removed entirely; an empty set is never stored.
// Removing a non-present reaction is a no-op.
func RemoveReaction(reactions map[string][]string, emoji, userID string) (map[string][]string, bool) {
	users, ok := reactions[emoji]
	if !ok {
		return cloneReactions(reactions), false
	}
	idx := -1
	for i, existing := range users {
		if existing == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cloneReactions(reactions), false
	}
	out := cloneReactions(reactions)
	remaining := append(append([]string(nil), users[:idx]...), users[idx+1:]...)
	if len(remaining) == 0 {
		delete(out, emoji)
		if len(out) == 0 {
			out = nil
		}
	} else {
		out[emoji] = remaining
	}
	return out, true
}

func cloneReactions(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}
