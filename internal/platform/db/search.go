package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns free text into an ILIKE argument matching it as a
// literal substring. Pair it with ESCAPE '\' in the query.
func ContainsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}
