package selector

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokPunct
	tokSpace
)

// token is one lexical unit of a selector. For tokString, text holds the
// literal content without quotes and closed reports whether the literal was
// terminated in the input.
type token struct {
	kind   tokenKind
	text   string
	closed bool
}

func (t token) isPunct(s string) bool {
	return t.kind == tokPunct && t.text == s
}

func (t token) isWord(s string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, s)
}

// twoCharPunct lists the operators that lex as a single punctuation token.
var twoCharPunct = []string{"!=", "<=", ">="}

const singlePunct = "/[]=@(),|<>+"

// lex splits a raw selector into tokens. Whitespace runs collapse into one
// tokSpace; an unterminated literal consumes the rest of the input.
func lex(s string) []token {
	var toks []token
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			for i < len(r) && unicode.IsSpace(r[i]) {
				i++
			}
			toks = append(toks, token{kind: tokSpace, text: " "})
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(r) && r[j] != c {
				j++
			}
			if j < len(r) {
				toks = append(toks, token{kind: tokString, text: string(r[i+1 : j]), closed: true})
				i = j + 1
			} else {
				toks = append(toks, token{kind: tokString, text: string(r[i+1:])})
				i = len(r)
			}
		default:
			if i+1 < len(r) {
				pair := string(r[i : i+2])
				matched := false
				for _, p := range twoCharPunct {
					if pair == p {
						toks = append(toks, token{kind: tokPunct, text: p})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if strings.ContainsRune(singlePunct, c) {
				toks = append(toks, token{kind: tokPunct, text: string(c)})
				i++
				continue
			}
			j := i
			for j < len(r) && !isWordBoundary(r, j) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: string(r[i:j])})
			i = j
		}
	}
	return toks
}

func isWordBoundary(r []rune, j int) bool {
	c := r[j]
	if unicode.IsSpace(c) || c == '\'' || c == '"' || strings.ContainsRune(singlePunct, c) {
		return true
	}
	// "!" only terminates a word when it starts "!=".
	return c == '!' && j+1 < len(r) && r[j+1] == '='
}

// trimSpace drops leading and trailing whitespace tokens.
func trimSpace(toks []token) []token {
	for len(toks) > 0 && toks[0].kind == tokSpace {
		toks = toks[1:]
	}
	for len(toks) > 0 && toks[len(toks)-1].kind == tokSpace {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// withoutSpace returns toks with every whitespace token removed.
func withoutSpace(toks []token) []token {
	out := make([]token, 0, len(toks))
	for _, t := range toks {
		if t.kind != tokSpace {
			out = append(out, t)
		}
	}
	return out
}
