package sqlgen

import (
	"strings"

	"github.com/lib/pq"
)

// Dialect renders identifiers and JSON path expressions for one SQL engine.
// The zero value targets Postgres. It is injected into every compiler so the
// quoting rules live in exactly one place.
type Dialect struct{}

// Ident returns a safely quoted identifier.
func (Dialect) Ident(name string) string {
	return pq.QuoteIdentifier(name)
}

// Literal returns a safely quoted string literal. Used only for JSON path
// keys inside -> / ->> chains, which Postgres cannot take as placeholders in
// every position; everything else binds through Args.
func (Dialect) Literal(s string) string {
	return pq.QuoteLiteral(s)
}

// DotField rewrites a dotted field name into a JSON text-extraction
// expression: "a.b.c" becomes "a"->'b'->>'c'. The final hop uses ->> so the
// result is text, matching the document model's string view of nested
// scalars.
func (d Dialect) DotField(fieldName string) string {
	components := strings.Split(fieldName, ".")
	var b strings.Builder
	b.WriteString(d.Ident(components[0]))
	for i, key := range components[1:] {
		if i == len(components)-2 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		b.WriteString(d.Literal(key))
	}
	return b.String()
}

// DotFieldJSON is DotField with -> on every hop, yielding jsonb instead of
// text. Used for containment checks against JSON arrays.
func (d Dialect) DotFieldJSON(fieldName string) string {
	components := strings.Split(fieldName, ".")
	var b strings.Builder
	b.WriteString(d.Ident(components[0]))
	for _, key := range components[1:] {
		b.WriteString("->")
		b.WriteString(d.Literal(key))
	}
	return b.String()
}
