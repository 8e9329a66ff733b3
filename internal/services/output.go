package services

// NormalizeOutput extracts the list of asset URLs from a prediction output.
// A flat list is preferred, then output.images, then output.data. Any other
// shape yields nil.
func NormalizeOutput(output any) []string {
	if urls, ok := stringList(output); ok {
		return urls
	}
	obj, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"images", "data"} {
		if urls, ok := stringList(obj[key]); ok {
			return urls
		}
	}
	return nil
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		urls := make([]string, 0, len(list))
		for _, item := range list {
			switch x := item.(type) {
			case string:
				urls = append(urls, x)
			case map[string]any:
				// Some revisions wrap each asset as {"url": "..."}.
				if u, ok := x["url"].(string); ok {
					urls = append(urls, u)
				}
			}
		}
		return urls, true
	default:
		return nil, false
	}
}
