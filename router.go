package cablelink

import (
	"fmt"
	"strings"
	"unicode"
)

// OperationKind classifies an operation for routing.
type OperationKind int

const (
	KindUnknown OperationKind = iota
	KindQuery
	KindMutation
	KindSubscription
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindQuery:        "query",
	KindMutation:     "mutation",
	KindSubscription: "subscription",
}

func (k OperationKind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("OperationKind(%d)", k)
}

// Operation is one outgoing GraphQL request.
type Operation struct {
	Query         string
	Variables     map[string]any
	OperationName string

	// Kind may be left KindUnknown; it is then read from Query.
	Kind OperationKind
}

// Link turns an operation into a Stream of results.
type Link interface {
	Execute(op Operation) *Stream
}

// LinkFunc adapts a function to the Link interface.
type LinkFunc func(op Operation) *Stream

func (f LinkFunc) Execute(op Operation) *Stream {
	return f(op)
}

// Split routes operations for which test returns true to left and every
// other operation to right.
func Split(test func(Operation) bool, left, right Link) Link {
	return LinkFunc(func(op Operation) *Stream {
		if test(op) {
			return left.Execute(op)
		}
		return right.Execute(op)
	})
}

// IsSubscription reports whether op is a subscription.
func IsSubscription(op Operation) bool {
	return KindOf(op) == KindSubscription
}

// KindOf returns op.Kind or, when unset, the kind of the first operation
// definition in op.Query. Fragment definitions and comments are skipped and
// the "{ ... }" shorthand counts as a query.
func KindOf(op Operation) OperationKind {
	if op.Kind != KindUnknown {
		return op.Kind
	}
	return kindOfDocument(op.Query)
}

func kindOfDocument(doc string) OperationKind {
	s := scanner{src: doc}
	for {
		s.skipIgnored()
		if s.eof() {
			return KindUnknown
		}
		if s.peek() == '{' {
			return KindQuery
		}
		switch word := s.name(); word {
		case "query":
			return KindQuery
		case "mutation":
			return KindMutation
		case "subscription":
			return KindSubscription
		case "fragment":
			if !s.skipDefinition() {
				return KindUnknown
			}
		default:
			return KindUnknown
		}
	}
}

// scanner is just enough of a GraphQL lexer to find the first definition keyword.
type scanner struct {
	src string
	pos int
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte { return s.src[s.pos] }

// skipIgnored skips whitespace, commas, the BOM and # comments.
func (s *scanner) skipIgnored() {
	for !s.eof() {
		switch c := s.peek(); {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			s.pos++
		case c == '#':
			for !s.eof() && s.peek() != '\n' {
				s.pos++
			}
		case strings.HasPrefix(s.src[s.pos:], "\uFEFF"):
			s.pos += len("\uFEFF")
		default:
			return
		}
	}
}

func (s *scanner) name() string {
	start := s.pos
	for !s.eof() {
		c := rune(s.peek())
		if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			break
		}
		s.pos++
	}
	if start == s.pos {
		s.pos++
	}
	return s.src[start:s.pos]
}

// skipDefinition advances past the selection set of the current definition.
// It returns false when the braces never balance.
func (s *scanner) skipDefinition() bool {
	depth := 0
	for !s.eof() {
		switch c := s.peek(); c {
		case '"':
			s.skipString()
			continue
		case '#':
			s.skipIgnored()
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				s.pos++
				return true
			}
		}
		s.pos++
	}
	return false
}

func (s *scanner) skipString() {
	if strings.HasPrefix(s.src[s.pos:], `"""`) {
		end := strings.Index(s.src[s.pos+3:], `"""`)
		if end < 0 {
			s.pos = len(s.src)
			return
		}
		s.pos += 3 + end + 3
		return
	}
	s.pos++
	for !s.eof() {
		switch s.peek() {
		case '\\':
			s.pos += 2
			continue
		case '"':
			s.pos++
			return
		}
		s.pos++
	}
}
