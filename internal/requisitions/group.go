package requisitions

// Group is a set of rows sharing one key, in first-seen order.
type Group struct {
	Key    string  `json:"key"`
	Family string  `json:"family"`
	Rows   []Input `json:"rows"`
}

// GroupByCategory buckets rows by commodity category. Each group carries the
// family of its first row and every row lands in exactly one group.
func GroupByCategory(rows []Input) []Group {
	return groupBy(rows, func(in Input) string { return in.CategoryCode })
}

// GroupByNumber buckets rows by RC number.
func GroupByNumber(rows []Input) []Group {
	return groupBy(rows, func(in Input) string { return in.Number })
}

func groupBy(rows []Input, key func(Input) string) []Group {
	index := map[string]int{}
	groups := []Group{}
	for _, row := range rows {
		k := key(row)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k, Family: row.Family})
		}
		groups[i].Rows = append(groups[i].Rows, row)
	}
	return groups
}
