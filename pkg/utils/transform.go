package utils

// Dedup returns the non-empty values of in, in first-seen order.
func Dedup(in ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range in {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether s is in list.
func Contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
