package dashboard

import "strconv"

// BumpTaskCount increments the numeric task stat. Non-numeric values are left
// untouched. The input slice is not modified.
func BumpTaskCount(stats []Stat) []Stat {
	out := make([]Stat, len(stats))
	for i, item := range stats {
		out[i] = item
		if item.ID != TaskStatID {
			continue
		}
		current, err := strconv.Atoi(item.Value)
		if err != nil {
			continue
		}
		out[i].Value = strconv.Itoa(current + 1)
	}
	return out
}
