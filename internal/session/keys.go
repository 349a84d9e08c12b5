package session

import "scour/internal/taskrun"

// RefKey returns the stable reference key of a result item. Discovery and
// detail payloads name it differently depending on the remote task version,
// so both spellings are accepted.
func RefKey(item taskrun.Item) string {
	for _, field := range []string{"videoUrl", "url"} {
		if value, ok := item[field].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// OwnerKey returns the secondary reference key (the posting account) of a
// result item.
func OwnerKey(item taskrun.Item) string {
	for _, field := range []string{"username", "ownerUsername"} {
		if value, ok := item[field].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// uniqueKeys extracts keys in first-seen order, dropping blanks and
// duplicates, capped at limit.
func uniqueKeys(items []taskrun.Item, extract func(taskrun.Item) string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		key := extract(item)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		if len(keys) >= limit {
			break
		}
	}
	return keys
}

// batchKeys partitions keys into slices of at most size elements.
func batchKeys(keys []string, size int) [][]string {
	if size <= 0 || len(keys) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}
	return batches
}
