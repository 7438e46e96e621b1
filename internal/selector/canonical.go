package selector

import (
	"regexp"
	"sort"
	"strings"
)

// step is one '/'-separated segment: a node test, its bracketed predicates,
// and any stray tokens that followed the last predicate.
type step struct {
	test  []token
	preds []predicate
	tail  []token
}

type predicate struct {
	body   []token
	closed bool
}

type path struct {
	absolute bool
	steps    []step
}

func parsePath(toks []token) path {
	var p path
	toks = trimSpace(toks)
	i := 0
	if i < len(toks) && toks[i].isPunct("/") {
		p.absolute = true
		i++
	}
	cur := step{}
	for i < len(toks) {
		t := toks[i]
		switch {
		case t.isPunct("/"):
			p.steps = append(p.steps, cur)
			cur = step{}
			i++
		case t.isPunct("["):
			end, ok := matchBracket(toks, i)
			if ok {
				cur.preds = append(cur.preds, predicate{body: toks[i+1 : end], closed: true})
				i = end + 1
			} else {
				cur.preds = append(cur.preds, predicate{body: toks[i+1:]})
				i = len(toks)
			}
		default:
			if len(cur.preds) > 0 {
				cur.tail = append(cur.tail, t)
			} else {
				cur.test = append(cur.test, t)
			}
			i++
		}
	}
	p.steps = append(p.steps, cur)
	return p
}

// matchBracket returns the index of the ']' closing the '[' at open.
func matchBracket(toks []token, open int) (int, bool) {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].isPunct("["):
			depth++
		case toks[i].isPunct("]"):
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func renderPath(p path) string {
	rendered := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		rendered = append(rendered, renderStep(s))
	}

	if len(rendered) > 1 {
		kept := make([]string, 0, len(rendered))
		hadDot := false
		for _, s := range rendered {
			if s == "." {
				hadDot = true
				continue
			}
			kept = append(kept, s)
		}
		if hadDot && allEmpty(kept) {
			kept = []string{"."}
		}
		rendered = kept
	}
	for len(rendered) > 1 && rendered[len(rendered)-1] == "" {
		rendered = rendered[:len(rendered)-1]
	}

	out := strings.Join(rendered, "/")
	if p.absolute {
		out = "/" + out
	}
	return out
}

func allEmpty(ss []string) bool {
	for _, s := range ss {
		if s != "" {
			return false
		}
	}
	return true
}

func renderStep(s step) string {
	var b strings.Builder
	b.WriteString(renderExpr(s.test))
	for _, pred := range s.preds {
		b.WriteByte('[')
		b.WriteString(canonicalPredicate(pred.body))
		if pred.closed {
			b.WriteByte(']')
		}
	}
	b.WriteString(renderExpr(s.tail))
	return b.String()
}

// renderExpr renders a token run: words lowercased, literals requoted, and
// whitespace kept as a single space only between two non-punctuation tokens.
// Nested predicates are canonicalized recursively.
func renderExpr(toks []token) string {
	toks = trimSpace(toks)
	var b strings.Builder
	var prev *token
	closeTok := token{kind: tokPunct, text: "]"}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.kind == tokSpace:
			if prev == nil || i+1 >= len(toks) {
				continue
			}
			if isStripPunct(*prev) || isStripPunct(toks[i+1]) {
				continue
			}
			b.WriteByte(' ')
			continue
		case t.isPunct("["):
			end, ok := matchBracket(toks, i)
			b.WriteByte('[')
			if ok {
				b.WriteString(canonicalPredicate(toks[i+1 : end]))
				b.WriteByte(']')
				i = end
			} else {
				b.WriteString(canonicalPredicate(toks[i+1:]))
				i = len(toks)
			}
			prev = &closeTok
			continue
		case t.kind == tokWord:
			b.WriteString(strings.ToLower(t.text))
		case t.kind == tokString:
			b.WriteString(quoteLiteral(t))
		default:
			b.WriteString(t.text)
		}
		prev = &toks[i]
	}
	return b.String()
}

func isStripPunct(t token) bool {
	return t.kind == tokPunct && t.text != "+"
}

// quoteLiteral renders a literal with the canonical single quote unless the
// content itself contains one.
func quoteLiteral(t token) string {
	q := "'"
	if strings.Contains(t.text, "'") {
		q = `"`
	}
	if t.closed {
		return q + t.text + q
	}
	return q + t.text
}

var positionPattern = regexp.MustCompile(`^position\(\)=(\d+|last\(\))$`)

// canonicalPredicate renders a predicate body. Conjunctions without a
// top-level "or" are sorted so operand order does not matter.
func canonicalPredicate(body []token) string {
	body = trimSpace(body)
	operands := splitTopLevel(body, "and")
	if len(operands) == 1 || hasTopLevelWord(body, "or") {
		return rewritePosition(renderExpr(body))
	}
	rendered := make([]string, len(operands))
	for i, op := range operands {
		rendered[i] = renderExpr(op)
	}
	sort.Strings(rendered)
	return strings.Join(rendered, " and ")
}

func rewritePosition(s string) string {
	if m := positionPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// splitTopLevel splits toks on the given keyword outside parentheses and
// nested brackets.
func splitTopLevel(toks []token, keyword string) [][]token {
	var parts [][]token
	depth := 0
	start := 0
	for i, t := range toks {
		switch {
		case t.isPunct("(") || t.isPunct("["):
			depth++
		case t.isPunct(")") || t.isPunct("]"):
			if depth > 0 {
				depth--
			}
		case depth == 0 && t.isWord(keyword):
			parts = append(parts, toks[start:i])
			start = i + 1
		}
	}
	return append(parts, toks[start:])
}

func hasTopLevelWord(toks []token, keyword string) bool {
	return len(splitTopLevel(toks, keyword)) > 1
}
