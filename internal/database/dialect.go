package database

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL engine behind the gateway.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Rebind rewrites ? placeholders into the engine's native form. SQLite keeps
// them as-is; Postgres gets $1..$n. Placeholders inside quoted literals or
// quoted identifiers are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// needsReturning reports whether an INSERT lacks a RETURNING clause.
func needsReturning(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "INSERT") && !strings.Contains(q, "RETURNING")
}

func withReturningID(query string) string {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	return q + " RETURNING id"
}
