package source

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/marmos91/mediabus/pkg/property"
)

// Query is a parsed search expression.
//
// Grammar:
//
//	query  = "*" | or
//	or     = and { "or" and }
//	and    = term { ["and"] term }
//	term   = "(" or ")" | clause | text
//	clause = Name ( "=" | "!=" | "contains" ) quoted
//	text   = bare word or quoted string
//
// A bare text term matches objects whose DisplayName contains it. String
// comparison is case-insensitive for contains and exact for = and !=.
// StringList properties match when any element matches.
type Query struct {
	raw  string
	root expr
}

// ParseQuery parses s. An empty or "*" query matches everything.
func ParseQuery(s string) (*Query, error) {
	q := &Query{raw: s}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "*" {
		q.root = matchAll{}
		return q, nil
	}

	p := &parser{tokens: tokenize(trimmed)}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", s, err)
	}
	if !p.done() {
		return nil, fmt.Errorf("invalid query %q: unexpected %q", s, p.peek().text)
	}
	q.root = root
	return q, nil
}

// MustParseQuery is ParseQuery for literals known to be valid.
func MustParseQuery(s string) *Query {
	q, err := ParseQuery(s)
	if err != nil {
		panic(err)
	}
	return q
}

// String returns the query text as given.
func (q *Query) String() string { return q.raw }

// Names lists the properties the query reads, so a source can fetch them
// before matching.
func (q *Query) Names() []property.Name {
	var names []property.Name
	q.root.names(&names)
	return names
}

// Match reports whether t satisfies the query. A nil query matches
// everything.
func (q *Query) Match(t property.Table) bool {
	if q == nil || q.root == nil {
		return true
	}
	return q.root.match(t)
}

type expr interface {
	match(property.Table) bool
	names(*[]property.Name)
}

type matchAll struct{}

func (matchAll) match(property.Table) bool { return true }
func (matchAll) names(*[]property.Name)    {}

type andExpr []expr

func (a andExpr) match(t property.Table) bool {
	for _, e := range a {
		if !e.match(t) {
			return false
		}
	}
	return true
}

func (a andExpr) names(out *[]property.Name) {
	for _, e := range a {
		e.names(out)
	}
}

type orExpr []expr

func (o orExpr) match(t property.Table) bool {
	for _, e := range o {
		if e.match(t) {
			return true
		}
	}
	return false
}

func (o orExpr) names(out *[]property.Name) {
	for _, e := range o {
		e.names(out)
	}
}

type operator int

const (
	opEquals operator = iota
	opNotEquals
	opContains
)

type clause struct {
	name  property.Name
	op    operator
	value string
}

func (c clause) names(out *[]property.Name) {
	*out = append(*out, c.name)
}

func (c clause) match(t property.Table) bool {
	v, ok := t.Get(c.name)
	if !ok {
		v, _ = property.Default(c.name)
	}

	var candidates []string
	switch v.Kind() {
	case property.KindStringList:
		candidates, _ = v.AsStringList()
	case property.KindInvalid:
	default:
		candidates = []string{v.String()}
	}

	if c.op == opNotEquals {
		for _, s := range candidates {
			if s == c.value {
				return false
			}
		}
		return true
	}

	needle := strings.ToLower(c.value)
	for _, s := range candidates {
		switch c.op {
		case opEquals:
			if s == c.value {
				return true
			}
		case opContains:
			if strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
	}
	return false
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) []token {
	var tokens []token
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == '=':
			tokens = append(tokens, token{tokOp, "="})
			i++
		case c == '!' && i+1 < len(r) && r[i+1] == '=':
			tokens = append(tokens, token{tokOp, "!="})
			i += 2
		case c == '"':
			j := i + 1
			var b strings.Builder
			for j < len(r) && r[j] != '"' {
				if r[j] == '\\' && j+1 < len(r) {
					j++
				}
				b.WriteRune(r[j])
				j++
			}
			tokens = append(tokens, token{tokString, b.String()})
			i = j + 1
		default:
			j := i
			for j < len(r) && !unicode.IsSpace(r[j]) && !strings.ContainsRune(`()="`, r[j]) && !(r[j] == '!' && j+1 < len(r) && r[j+1] == '=') {
				j++
			}
			tokens = append(tokens, token{tokWord, string(r[i:j])})
			i = j
		}
	}
	return tokens
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: -1}
	}
	return p.tokens[p.pos]
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokWord && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := orExpr{first}
	for p.keyword("or") {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *parser) parseAnd() (expr, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := andExpr{first}
	for p.continuesAnd() {
		next, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

// continuesAnd consumes an explicit "and", or reports whether the next
// token starts a term; adjacent terms are implicitly joined with and.
func (p *parser) continuesAnd() bool {
	if p.keyword("and") {
		return true
	}
	t := p.peek()
	if p.done() || t.kind == tokRParen || t.kind == tokOp {
		return false
	}
	return !(t.kind == tokWord && strings.EqualFold(t.text, "or"))
}

func (p *parser) parseTerm() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokString:
		p.pos++
		return clause{name: property.DisplayName, op: opContains, value: t.text}, nil
	case tokWord:
		p.pos++
		if op, ok := p.operator(); ok {
			name, known := property.ParseName(t.text)
			if !known {
				return nil, fmt.Errorf("unknown property %q", t.text)
			}
			value := p.peek()
			if value.kind != tokString && value.kind != tokWord {
				return nil, fmt.Errorf("missing value after %s", name)
			}
			p.pos++
			return clause{name: name, op: op, value: value.text}, nil
		}
		return clause{name: property.DisplayName, op: opContains, value: t.text}, nil
	default:
		if p.done() {
			return nil, fmt.Errorf("unexpected end of query")
		}
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
}

func (p *parser) operator() (operator, bool) {
	t := p.peek()
	switch {
	case t.kind == tokOp && t.text == "=":
		p.pos++
		return opEquals, true
	case t.kind == tokOp && t.text == "!=":
		p.pos++
		return opNotEquals, true
	case t.kind == tokWord && strings.EqualFold(t.text, "contains"):
		p.pos++
		return opContains, true
	}
	return 0, false
}

// Contains builds the query Name contains "value".
func Contains(name property.Name, value string) *Query {
	return &Query{
		raw:  string(name) + " contains " + strconv.Quote(value),
		root: clause{name: name, op: opContains, value: value},
	}
}
