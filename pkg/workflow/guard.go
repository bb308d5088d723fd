package workflow

import (
	"fmt"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var guardLog = logger.New("workflow:guard")

// Condition requires a matrix axis to hold a specific value.
type Condition struct {
	Axis  string
	Value string
}

// Render returns the GitHub Actions expression for the condition.
func (c Condition) Render() string {
	return fmt.Sprintf("matrix.%s == '%s'", c.Axis, strings.ReplaceAll(c.Value, "'", "''"))
}

// Guard restricts a step to matrix instances satisfying every condition.
// The zero Guard matches every instance.
type Guard struct {
	Conditions []Condition
}

// When builds a single-condition guard.
func When(axis, value string) Guard {
	return Guard{Conditions: []Condition{{Axis: axis, Value: value}}}
}

// IsZero reports whether the guard has no conditions.
func (g Guard) IsZero() bool {
	return len(g.Conditions) == 0
}

// Render returns the guard as an if: expression, or "" for the zero guard.
func (g Guard) Render() string {
	parts := make([]string, len(g.Conditions))
	for i, c := range g.Conditions {
		parts[i] = c.Render()
	}
	return strings.Join(parts, " && ")
}

// Matches reports whether a matrix combination satisfies the guard.
func (g Guard) Matches(combo Combination) bool {
	for _, c := range g.Conditions {
		value, ok := combo.Get(c.Axis)
		if !ok || value != c.Value {
			guardLog.Printf("Condition %s not satisfied by [%s]", c.Render(), combo)
			return false
		}
	}
	return true
}

// ParseGuard parses an if: expression made of matrix equality comparisons
// joined by && with optional parentheses, e.g.
// "${{ matrix.os == 'ubuntu-latest' && (matrix.rust == 'stable') }}".
func ParseGuard(expression string) (Guard, error) {
	expr := stripExpressionWrapper(expression)
	guardLog.Printf("Parsing guard expression: %s", expr)
	if expr == "" {
		return Guard{}, nil
	}

	tokens, err := tokenizeGuard(expr)
	if err != nil {
		return Guard{}, err
	}
	p := &guardParser{tokens: tokens}
	conditions, err := p.parseAnd()
	if err != nil {
		return Guard{}, err
	}
	if tok := p.peek(); tok.kind != guardTokenEOF {
		return Guard{}, fmt.Errorf("unexpected %q at position %d in condition %q", tok.value, tok.pos, expr)
	}
	return Guard{Conditions: conditions}, nil
}

// stripExpressionWrapper removes a surrounding ${{ }} if present.
func stripExpressionWrapper(expression string) string {
	expr := strings.TrimSpace(expression)
	if strings.HasPrefix(expr, "${{") && strings.HasSuffix(expr, "}}") {
		return strings.TrimSpace(expr[3 : len(expr)-2])
	}
	return expr
}

type guardTokenKind int

const (
	guardTokenIdent guardTokenKind = iota
	guardTokenString
	guardTokenEquals
	guardTokenAnd
	guardTokenLeftParen
	guardTokenRightParen
	guardTokenEOF
)

type guardToken struct {
	kind  guardTokenKind
	value string
	pos   int
}

func tokenizeGuard(expr string) ([]guardToken, error) {
	var tokens []guardToken
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case ch == '(':
			tokens = append(tokens, guardToken{guardTokenLeftParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, guardToken{guardTokenRightParen, ")", i})
			i++
		case strings.HasPrefix(expr[i:], "&&"):
			tokens = append(tokens, guardToken{guardTokenAnd, "&&", i})
			i += 2
		case strings.HasPrefix(expr[i:], "=="):
			tokens = append(tokens, guardToken{guardTokenEquals, "==", i})
			i += 2
		case strings.HasPrefix(expr[i:], "||"), strings.HasPrefix(expr[i:], "!="), ch == '!':
			return nil, fmt.Errorf("unsupported operator at position %d in condition %q: only == and && are supported", i, expr)
		case ch == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(expr) {
				if expr[i] == '\'' {
					if i+1 < len(expr) && expr[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(expr[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string starting at position %d in condition %q", start, expr)
			}
			tokens = append(tokens, guardToken{guardTokenString, b.String(), start})
		case isIdentChar(ch):
			start := i
			for i < len(expr) && isIdentChar(expr[i]) {
				i++
			}
			tokens = append(tokens, guardToken{guardTokenIdent, expr[start:i], start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d in condition %q", ch, i, expr)
		}
	}
	tokens = append(tokens, guardToken{guardTokenEOF, "", len(expr)})
	return tokens, nil
}

func isIdentChar(ch byte) bool {
	return ch == '.' || ch == '_' || ch == '-' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

type guardParser struct {
	tokens []guardToken
	pos    int
}

func (p *guardParser) peek() guardToken {
	return p.tokens[p.pos]
}

func (p *guardParser) next() guardToken {
	tok := p.tokens[p.pos]
	if tok.kind != guardTokenEOF {
		p.pos++
	}
	return tok
}

func (p *guardParser) parseAnd() ([]Condition, error) {
	conditions, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == guardTokenAnd {
		p.next()
		more, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, more...)
	}
	return conditions, nil
}

func (p *guardParser) parsePrimary() ([]Condition, error) {
	if p.peek().kind == guardTokenLeftParen {
		open := p.next()
		conditions, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != guardTokenRightParen {
			return nil, fmt.Errorf("missing ')' for '(' at position %d", open.pos)
		}
		p.next()
		return conditions, nil
	}
	c, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	return []Condition{c}, nil
}

func (p *guardParser) parseComparison() (Condition, error) {
	left := p.next()
	if eq := p.next(); eq.kind != guardTokenEquals {
		return Condition{}, fmt.Errorf("expected '==' at position %d, got %q", eq.pos, eq.value)
	}
	right := p.next()

	ident, literal := left, right
	if left.kind == guardTokenString && right.kind == guardTokenIdent {
		ident, literal = right, left
	}
	if ident.kind != guardTokenIdent || literal.kind != guardTokenString {
		return Condition{}, fmt.Errorf("comparison at position %d must compare a matrix axis with a quoted string", left.pos)
	}
	axis, ok := strings.CutPrefix(ident.value, "matrix.")
	if !ok || axis == "" {
		return Condition{}, fmt.Errorf("unsupported context %q at position %d: conditions may only reference matrix axes", ident.value, ident.pos)
	}
	return Condition{Axis: axis, Value: literal.value}, nil
}
