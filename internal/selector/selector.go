// Package selector canonicalizes overlay path selectors so that selectors
// addressing the same location in the dataset group under one key.
//
// Canonical form: whitespace collapsed, no spaces around / [ ] = @ and
// other operators, literals single-quoted unless they contain a single
// quote, and-joined predicate operands sorted, position()=N rewritten to N,
// "." steps and trailing separators removed, and everything outside literals
// lowercased.
package selector

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the number of digest bytes kept in a selector hash.
const HashSize = 16

// Result is the outcome of canonicalizing one selector.
type Result struct {
	Canonical     string `json:"canonical"`
	Hash          string `json:"hash"`
	IsValidSyntax bool   `json:"isValidSyntax"`
	SyntaxError   string `json:"syntaxError,omitempty"`
}

// Canonicalize normalizes a raw selector. Invalid syntax never fails: the
// best-effort canonical form is returned with IsValidSyntax=false.
func Canonicalize(raw string) Result {
	toks := lex(raw)
	p := parsePath(toks)
	canonical := renderPath(p)

	res := Result{
		Canonical:     canonical,
		Hash:          Hash(canonical),
		IsValidSyntax: true,
	}
	if err := validate(toks, p); err != nil {
		res.IsValidSyntax = false
		res.SyntaxError = err.Error()
	}
	return res
}

// Hash returns the fixed-length hex digest of a canonical selector.
func Hash(canonical string) string {
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:HashSize])
}

// Target classes group operation kinds that address the same kind of
// location. Node-level kinds (Set, Append, Remove, InsertBefore,
// InsertAfter) collide with each other; attribute-level kinds
// (SetAttribute, RemoveAttribute) collide with each other.
const (
	ClassNode      = "node"
	ClassAttribute = "attribute"
)

// KindClass maps an operation kind name to its target class.
func KindClass(kind string) string {
	switch kind {
	case "SetAttribute", "RemoveAttribute":
		return ClassAttribute
	default:
		return ClassNode
	}
}

// ComputeConflictKey combines a canonical selector and an operation kind
// into the grouping key used by the conflict analyzers.
func ComputeConflictKey(canonical, kind string) string {
	return ComputeScopedConflictKey("", canonical, kind)
}

// ComputeScopedConflictKey is ComputeConflictKey restricted to one overlay
// file, so identical selectors in different files never group together.
func ComputeScopedConflictKey(scope, canonical, kind string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(KindClass(kind)))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)[:HashSize])
}

// IsPrefixPath reports whether the canonical selector prefix addresses an
// ancestor of (or the same node as) canonical, comparing whole steps.
func IsPrefixPath(prefix, canonical string) bool {
	if prefix == canonical {
		return true
	}
	if prefix == "" || len(prefix) >= len(canonical) {
		return false
	}
	return canonical[:len(prefix)] == prefix && canonical[len(prefix)] == '/'
}
