package sql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType classifies a lexical token.
type TokenType int

const (
	TokEOF TokenType = iota
	TokIdent
	TokKeyword
	TokNumber
	TokString
	TokParam
	TokOp
)

// Token is one lexical unit. Keyword text is upper-cased.
type Token struct {
	Type TokenType
	Text string
	Num  float64
	Pos  int
}

func (t Token) String() string {
	switch t.Type {
	case TokEOF:
		return "end of query"
	case TokString:
		return strconv.Quote(t.Text)
	case TokParam:
		return "@" + t.Text
	}
	return t.Text
}

var keywords = map[string]bool{
	"SELECT": true, "DISTINCT": true, "TOP": true, "VALUE": true, "AS": true,
	"FROM": true, "WHERE": true, "GROUP": true, "BY": true, "ORDER": true,
	"ASC": true, "DESC": true, "OFFSET": true, "LIMIT": true, "AND": true,
	"OR": true, "NOT": true, "IN": true, "BETWEEN": true, "TRUE": true,
	"FALSE": true, "NULL": true, "UNDEFINED": true,
}

// multi-character operators, longest first
var operators = []string{"??", "||", "!=", "<>", "<=", ">=", "=", "<", ">", "+", "-", "*", "/", "%",
	"(", ")", "[", "]", "{", "}", ",", ".", ":", "?"}

// Lex splits a query into tokens.
func Lex(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '-' && strings.HasPrefix(src[i:], "--"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			word := src[start:i]
			if upper := strings.ToUpper(word); keywords[upper] {
				toks = append(toks, Token{Type: TokKeyword, Text: upper, Pos: start})
			} else {
				toks = append(toks, Token{Type: TokIdent, Text: word, Pos: start})
			}
		case r >= '0' && r <= '9':
			start := i
			for i < len(src) && isNumberByte(src, i) {
				i++
			}
			f, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", src[start:i], start)
			}
			toks = append(toks, Token{Type: TokNumber, Text: src[start:i], Num: f, Pos: start})
		case r == '\'' || r == '"':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, fmt.Errorf("%v at %d", err, i)
			}
			toks = append(toks, Token{Type: TokString, Text: s, Pos: i})
			i += n
		case r == '@':
			start := i
			i++
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			if i == start+1 {
				return nil, fmt.Errorf("empty parameter name at %d", start)
			}
			toks = append(toks, Token{Type: TokParam, Text: src[start+1 : i], Pos: start})
		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, Token{Type: TokOp, Text: op, Pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q at %d", r, i)
			}
		}
	}
	return append(toks, Token{Type: TokEOF, Pos: len(src)}), nil
}

func isNumberByte(src string, i int) bool {
	c := src[i]
	switch {
	case c >= '0' && c <= '9', c == '.':
		return true
	case c == 'e' || c == 'E':
		return true
	case (c == '+' || c == '-') && i > 0 && (src[i-1] == 'e' || src[i-1] == 'E'):
		return true
	}
	return false
}

func lexString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'u':
				if i+4 >= len(src) {
					return "", 0, fmt.Errorf("short unicode escape")
				}
				n, err := strconv.ParseUint(src[i+1:i+5], 16, 32)
				if err != nil {
					return "", 0, fmt.Errorf("bad unicode escape %q", src[i+1:i+5])
				}
				b.WriteRune(rune(n))
				i += 4
			default:
				b.WriteByte(src[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}
