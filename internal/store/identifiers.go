package store

import (
	"fmt"
	"regexp"
)

// identifierPattern matches the whitelist a SQL identifier must satisfy
// before it can be interpolated into a query string: lowercase letters,
// digits, and underscores, starting with a letter.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const maxIdentifierLength = 63

// reservedKeywords is a non-exhaustive but representative set of
// Postgres reserved words that must never be accepted as a bare
// identifier, even if they otherwise match identifierPattern.
var reservedKeywords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"drop": true, "table": true, "from": true, "where": true,
	"join": true, "union": true, "order": true, "group": true,
	"grant": true, "revoke": true, "alter": true, "create": true,
	"truncate": true, "into": true, "values": true, "set": true,
	"and": true, "or": true, "not": true, "null": true,
	"primary": true, "foreign": true, "references": true, "check": true,
	"default": true, "constraint": true, "index": true, "view": true,
	"all": true, "as": true, "asc": true, "desc": true, "between": true,
	"by": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "exists": true, "in": true, "is": true, "like": true,
	"limit": true, "offset": true, "on": true, "user": true, "to": true,
}

// ValidateIdentifier enforces property P7: a SQL identifier destined for
// direct interpolation (table and column names cannot be bound as query
// parameters) must match ^[a-z][a-z0-9_]*$, be ≤ 63 bytes, and not be a
// reserved keyword. Every other input is rejected.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier must not be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d bytes", name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q does not match %s", name, identifierPattern.String())
	}
	if reservedKeywords[name] {
		return fmt.Errorf("identifier %q is a reserved keyword", name)
	}
	return nil
}

// IsValidIdentifier reports whether name satisfies ValidateIdentifier
// without constructing an error.
func IsValidIdentifier(name string) bool {
	return ValidateIdentifier(name) == nil
}
