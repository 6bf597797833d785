package adapter

// MergePayload computes the stored payload after an update. The default is a
// shallow merge of patch into current; replace discards current instead.
// Increment values resolve against the stored field in either mode, so an
// atomic counter bump works the same on both backends.
func MergePayload(current, patch map[string]any, replace bool) map[string]any {
	var out map[string]any
	if replace {
		out = make(map[string]any, len(patch))
	} else {
		out = make(map[string]any, len(current)+len(patch))
		for k, v := range current {
			out[k] = v
		}
	}
	for k, v := range patch {
		if inc, ok := v.(Increment); ok {
			out[k] = numericValue(current[k]) + inc.Delta
			continue
		}
		out[k] = v
	}
	return out
}

func numericValue(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
