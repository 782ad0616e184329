package rule

import (
	"sort"
)

// Placeholder shown when an action carries no usable type.
const Placeholder = "—"

// Summarize renders a short human description of an action. It never
// fails: unknown or missing types fall back to the raw type or Placeholder.
func Summarize(action Action) string {
	switch a := action.(type) {
	case nil:
		return Placeholder
	case RouteAction:
		return "Alert → " + a.Topic
	case DropAction:
		return "Ignore reading"
	case MutateAction:
		key := firstKey(a.Set)
		if key == "" {
			return "Update " + Placeholder
		}
		return "Update " + key
	case UnknownAction:
		if a.RawType == "" {
			return Placeholder
		}
		return a.RawType
	default:
		return string(action.Type())
	}
}

// firstKey returns the lexically smallest key so the summary is stable.
func firstKey(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
