// Package shellpolicy classifies shell commands proposed by the engineer agent.
package shellpolicy

import (
	"fmt"
	"strings"
)

// Segment is one simple command of a command chain.
type Segment struct {
	// Raw is the segment text as written, trimmed.
	Raw string
	// Words are the argument words with quoting and escapes removed.
	Words []string
	// Redirects are the targets of output redirections (">", ">>", ">|").
	Redirects []string
	// Substitution reports an unquoted or double-quoted "$(", "<(" or backtick.
	Substitution bool
	// Operator is the chain operator that ended the segment ("" at end of input).
	Operator string
}

// SyntaxError reports a command the scanner could not split safely.
type SyntaxError struct {
	Reason string
}

func (e *SyntaxError) Error() string {
	return e.Reason
}

type quoteState int

const (
	stateBare quoteState = iota
	stateSingle
	stateDouble
)

type scanner struct {
	src      string
	pos      int
	state    quoteState
	segStart int

	word     strings.Builder
	inWord   bool
	redirect bool

	cur  Segment
	segs []Segment
}

// Split tokenizes a command into segments separated by ";", newlines, "&&",
// "||" and "|". Operators inside single or double quotes, or escaped with a
// backslash, do not split.
func Split(command string) ([]Segment, error) {
	s := &scanner{src: command}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.segs, nil
}

func (s *scanner) run() error {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch s.state {
		case stateSingle:
			if c == '\'' {
				s.state = stateBare
			} else {
				s.word.WriteByte(c)
			}
			s.pos++
		case stateDouble:
			if err := s.double(c); err != nil {
				return err
			}
		default:
			if err := s.bare(c); err != nil {
				return err
			}
		}
	}
	if s.state != stateBare {
		return &SyntaxError{Reason: "unterminated quote"}
	}
	s.flushWord()
	return s.flushSegment("", true)
}

func (s *scanner) double(c byte) error {
	switch c {
	case '"':
		s.state = stateBare
		s.pos++
	case '\\':
		if s.pos+1 >= len(s.src) {
			return &SyntaxError{Reason: "trailing backslash"}
		}
		next := s.src[s.pos+1]
		// Inside double quotes a backslash only escapes these characters.
		if strings.IndexByte("\"\\$`\n", next) >= 0 {
			s.word.WriteByte(next)
		} else {
			s.word.WriteByte(c)
			s.word.WriteByte(next)
		}
		s.pos += 2
	case '`':
		s.cur.Substitution = true
		s.word.WriteByte(c)
		s.pos++
	case '$':
		if s.peek(1) == '(' {
			s.cur.Substitution = true
		}
		s.word.WriteByte(c)
		s.pos++
	default:
		s.word.WriteByte(c)
		s.pos++
	}
	return nil
}

func (s *scanner) bare(c byte) error {
	switch c {
	case '\\':
		if s.pos+1 >= len(s.src) {
			return &SyntaxError{Reason: "trailing backslash"}
		}
		if s.src[s.pos+1] != '\n' {
			s.word.WriteByte(s.src[s.pos+1])
			s.inWord = true
		}
		s.pos += 2
	case '\'':
		s.state = stateSingle
		s.inWord = true
		s.pos++
	case '"':
		s.state = stateDouble
		s.inWord = true
		s.pos++
	case ' ', '\t', '\r':
		s.flushWord()
		s.pos++
	case '\n', ';':
		s.flushWord()
		s.pos++
		return s.flushSegment(";", true)
	case '&':
		if s.peek(1) == '&' {
			s.flushWord()
			s.pos += 2
			return s.flushSegment("&&", false)
		}
		return &SyntaxError{Reason: "background operator '&' is not allowed"}
	case '|':
		s.flushWord()
		if s.peek(1) == '|' {
			s.pos += 2
			return s.flushSegment("||", false)
		}
		s.pos++
		return s.flushSegment("|", false)
	case '>':
		s.outputRedirect()
	case '<':
		if s.peek(1) == '(' {
			s.cur.Substitution = true
		}
		if s.peek(1) == '>' {
			// "<>" opens the target read-write and creates it.
			s.flushWord()
			s.pos += 2
			s.redirect = true
			return nil
		}
		s.flushWord()
		s.pos++
		for s.pos < len(s.src) && s.src[s.pos] == '<' {
			s.pos++
		}
	case '`':
		s.cur.Substitution = true
		s.word.WriteByte(c)
		s.inWord = true
		s.pos++
	case '$':
		if s.peek(1) == '(' {
			s.cur.Substitution = true
		}
		s.word.WriteByte(c)
		s.inWord = true
		s.pos++
	default:
		s.word.WriteByte(c)
		s.inWord = true
		s.pos++
	}
	return nil
}

// outputRedirect consumes ">", ">>", ">|" and the fd duplication forms
// ">&N" and ">&-". A numeric word directly before the operator is the
// redirected descriptor, not an argument. ">&word" with any other word
// sends both streams to a file and is recorded as a redirect.
func (s *scanner) outputRedirect() {
	if s.inWord && isDigits(s.word.String()) {
		s.word.Reset()
		s.inWord = false
	} else {
		s.flushWord()
	}
	s.pos++
	if s.peek(0) == '>' || s.peek(0) == '|' {
		s.pos++
	}
	if s.peek(0) == '&' {
		s.pos++
		if n := s.descriptorLen(); n > 0 {
			s.pos += n
			return
		}
	}
	s.redirect = true
}

// descriptorLen returns the length of a "N" or "-" duplication target at the
// current position, or 0 when the next word is anything else.
func (s *scanner) descriptorLen() int {
	n := 0
	if s.peek(0) == '-' {
		n = 1
	} else {
		for isDigit(s.peek(n)) {
			n++
		}
	}
	if n == 0 || !isWordEnd(s.peek(n)) {
		return 0
	}
	return n
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.src) {
		return 0
	}
	return s.src[s.pos+offset]
}

func (s *scanner) flushWord() {
	if !s.inWord && s.word.Len() == 0 {
		return
	}
	w := s.word.String()
	s.word.Reset()
	s.inWord = false
	if s.redirect {
		s.cur.Redirects = append(s.cur.Redirects, w)
		s.redirect = false
		return
	}
	s.cur.Words = append(s.cur.Words, w)
}

func (s *scanner) flushSegment(op string, allowEmpty bool) error {
	if s.redirect {
		return &SyntaxError{Reason: "redirection without a target"}
	}
	raw := strings.TrimSpace(s.src[s.segStart : s.pos-len(op)])
	s.segStart = s.pos

	seg := s.cur
	s.cur = Segment{}
	seg.Raw = raw
	seg.Operator = op

	if len(seg.Words) == 0 && !seg.Substitution && len(seg.Redirects) == 0 {
		if !allowEmpty {
			return danglingOperator(op)
		}
		if n := len(s.segs); n > 0 && s.segs[n-1].Operator != ";" {
			return danglingOperator(s.segs[n-1].Operator)
		}
		return nil
	}
	s.segs = append(s.segs, seg)
	return nil
}

func danglingOperator(op string) error {
	return &SyntaxError{Reason: fmt.Sprintf("dangling operator %q", op)}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isWordEnd reports whether c ends an unquoted word. 0 is end of input.
func isWordEnd(c byte) bool {
	return c == 0 || strings.IndexByte(" \t\r\n;&|<>()", c) >= 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
