package store

import (
	"fmt"
	"strings"
	"time"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Dialect interface {
	Now() string
	BoolTrue() string
	BoolFalse() string
}

type sqliteDialect struct{}

func (d sqliteDialect) Now() string       { return "datetime('now','localtime')" }
func (d sqliteDialect) BoolTrue() string  { return "1" }
func (d sqliteDialect) BoolFalse() string { return "0" }

type postgresDialect struct{}

func (d postgresDialect) Now() string       { return "NOW()" }
func (d postgresDialect) BoolTrue() string  { return "TRUE" }
func (d postgresDialect) BoolFalse() string { return "FALSE" }

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04:05-07:00",
			"2006-01-02 15:04:05.999999-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
