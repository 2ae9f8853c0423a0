package matcher

// IsSubsequence is the two-pointer check: advance through reference once,
// consuming a query symbol each time it matches. It needs no preprocessing and
// is the reference behaviour the indexed Matcher must agree with.
func IsSubsequence(query, reference string) bool {
	_, ok := MatchPositions(query, reference)
	return ok
}

// MatchPositions is IsSubsequence returning the rune offsets in reference that
// the query symbols were matched against.
func MatchPositions(query, reference string) ([]int, bool) {
	q := []rune(query)
	matched := make([]int, 0, len(q))
	i := 0
	pos := 0
	for _, r := range reference {
		if i == len(q) {
			break
		}
		if q[i] == r {
			matched = append(matched, pos)
			i++
		}
		pos++
	}
	if i != len(q) {
		return nil, false
	}
	return matched, true
}
