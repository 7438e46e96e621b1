package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	namePattern   = regexp.MustCompile(`^(?i)[a-z_][a-z0-9_.\-:]*$`)
	numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

var comparisonOps = map[string]bool{"=": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

// validate checks a parsed selector against the supported grammar: '/'
// separated steps, attribute and positional predicates joined by "and",
// position() and last().
func validate(toks []token, p path) error {
	for _, t := range toks {
		if t.kind == tokString && !t.closed {
			return fmt.Errorf("unterminated string literal")
		}
	}
	if len(trimSpace(toks)) == 0 {
		return fmt.Errorf("empty selector")
	}

	last := len(p.steps) - 1
	for idx, s := range p.steps {
		test := withoutSpace(s.test)
		if len(withoutSpace(s.tail)) > 0 {
			return fmt.Errorf("step %d: unexpected tokens after predicate", idx+1)
		}
		if len(test) == 0 {
			if len(s.preds) > 0 {
				return fmt.Errorf("step %d: predicate without node test", idx+1)
			}
			switch {
			case idx == last && idx == 0 && !p.absolute:
				return fmt.Errorf("empty selector")
			case idx == last:
				// root "/" or trailing separator
			case idx == 0 && !p.absolute:
				return fmt.Errorf("step 1: empty path step")
			case idx > 0 && len(withoutSpace(p.steps[idx-1].test)) == 0:
				return fmt.Errorf("step %d: empty path step", idx+1)
			}
			continue
		}
		if err := validNodeTest(test); err != nil {
			return fmt.Errorf("step %d: %w", idx+1, err)
		}
		for _, pred := range s.preds {
			if !pred.closed {
				return fmt.Errorf("step %d: unclosed predicate", idx+1)
			}
			if err := validPredicate(pred.body); err != nil {
				return fmt.Errorf("step %d: %w", idx+1, err)
			}
		}
	}
	return nil
}

func validNodeTest(test []token) error {
	for _, t := range test {
		if t.isPunct("]") {
			return fmt.Errorf("unexpected ']'")
		}
	}
	switch len(test) {
	case 1:
		w := test[0]
		if w.kind == tokWord && (w.text == "*" || w.text == "." || w.text == ".." || namePattern.MatchString(w.text)) {
			return nil
		}
	case 2:
		if test[0].isPunct("@") && test[1].kind == tokWord && (test[1].text == "*" || namePattern.MatchString(test[1].text)) {
			return nil
		}
	case 3:
		if (test[0].isWord("text") || test[0].isWord("node") || test[0].isWord("comment")) &&
			test[1].isPunct("(") && test[2].isPunct(")") {
			return nil
		}
	}
	return fmt.Errorf("invalid node test %q", renderExpr(test))
}

func validPredicate(body []token) error {
	toks := withoutSpace(body)
	if len(toks) == 0 {
		return fmt.Errorf("empty predicate")
	}
	if hasTopLevelWord(toks, "or") {
		return fmt.Errorf("unsupported operator 'or'")
	}
	// checked in canonical order so a selector and its canonical form report
	// the same first error
	operands := splitTopLevel(toks, "and")
	sort.SliceStable(operands, func(i, j int) bool {
		return renderExpr(operands[i]) < renderExpr(operands[j])
	})
	for _, operand := range operands {
		if err := validOperand(operand); err != nil {
			return err
		}
	}
	return nil
}

func validOperand(toks []token) error {
	if len(toks) == 0 {
		return fmt.Errorf("empty operand in conjunction")
	}
	if len(toks) == 1 && toks[0].kind == tokWord && digitsPattern.MatchString(toks[0].text) {
		return nil
	}
	if isLastCall(toks) {
		return nil
	}
	if len(toks) >= 3 && toks[0].isWord("position") && toks[1].isPunct("(") && toks[2].isPunct(")") {
		rest := toks[3:]
		if len(rest) >= 2 && rest[0].kind == tokPunct && comparisonOps[rest[0].text] {
			rhs := rest[1:]
			if (len(rhs) == 1 && rhs[0].kind == tokWord && digitsPattern.MatchString(rhs[0].text)) || isLastCall(rhs) {
				return nil
			}
		}
		return fmt.Errorf("malformed position() comparison")
	}

	i, err := validRelativePath(toks)
	if err != nil {
		return err
	}
	if i == len(toks) {
		return nil
	}
	if toks[i].kind != tokPunct || !comparisonOps[toks[i].text] {
		return fmt.Errorf("unexpected %q in predicate", strings.ToLower(toks[i].text))
	}
	rhs := toks[i+1:]
	if len(rhs) != 1 {
		return fmt.Errorf("comparison needs exactly one literal")
	}
	if rhs[0].kind == tokString || (rhs[0].kind == tokWord && numberPattern.MatchString(rhs[0].text)) {
		return nil
	}
	return fmt.Errorf("comparison right-hand side %q is not a literal", strings.ToLower(rhs[0].text))
}

func isLastCall(toks []token) bool {
	return len(toks) == 3 && toks[0].isWord("last") && toks[1].isPunct("(") && toks[2].isPunct(")")
}

// validRelativePath consumes ['@']name[pred]* ('/' ['@']name[pred]*)* and
// returns the index of the first token after it.
func validRelativePath(toks []token) (int, error) {
	i := 0
	for {
		if i < len(toks) && toks[i].isPunct("@") {
			i++
		}
		if i >= len(toks) || toks[i].kind != tokWord || !(toks[i].text == "*" || namePattern.MatchString(toks[i].text)) {
			if i < len(toks) {
				return i, fmt.Errorf("expected name in predicate, got %q", strings.ToLower(toks[i].text))
			}
			return i, fmt.Errorf("expected name in predicate")
		}
		i++
		for i < len(toks) && toks[i].isPunct("[") {
			end, ok := matchBracket(toks, i)
			if !ok {
				return i, fmt.Errorf("unclosed predicate")
			}
			if err := validPredicate(toks[i+1 : end]); err != nil {
				return i, err
			}
			i = end + 1
		}
		if i < len(toks) && toks[i].isPunct("/") {
			i++
			continue
		}
		return i, nil
	}
}
