package parser

import (
	"github.com/park671/pcc-go/internal/ast"
	"github.com/park671/pcc-go/internal/perr"
	"github.com/park671/pcc-go/internal/token"
)

// parseBool parses the outer OR-of-ANDs shape: an and-of-(relop | `!` bool)
// joined by `||`; `&&` binds tighter than `||`.
func (p *Parser) parseBool() (*ast.Bool, error) {
	pos := p.cur().Pos
	first, err := p.parseBoolAnd()
	if err != nil {
		return nil, err
	}
	b := &ast.Bool{Ands: []*ast.BoolAnd{first}, Pos: pos}
	for p.cur().Kind == token.OrOr {
		p.advance()
		and, err := p.parseBoolAnd()
		if err != nil {
			return nil, err
		}
		b.Ands = append(b.Ands, and)
	}
	return b, nil
}

func (p *Parser) parseBoolAnd() (*ast.BoolAnd, error) {
	pos := p.cur().Pos
	first, err := p.parseBoolFactor()
	if err != nil {
		return nil, err
	}
	and := &ast.BoolAnd{Factors: []ast.BoolFactor{first}, Pos: pos}
	for p.cur().Kind == token.AndAnd {
		p.advance()
		f, err := p.parseBoolFactor()
		if err != nil {
			return nil, err
		}
		and.Factors = append(and.Factors, f)
	}
	return and, nil
}

func (p *Parser) parseBoolFactor() (ast.BoolFactor, error) {
	tok := p.cur()
	switch tok.Kind {
	case token.Bang:
		p.advance()
		inner, err := p.parseBoolFactor()
		if err != nil {
			return nil, err
		}
		return &ast.NotFactor{Inner: inner, Pos: tok.Pos}, nil
	case token.LParen:
		// A '(' here is ambiguous between a parenthesized nested Bool and a
		// parenthesized arithmetic expression that begins a comparison;
		// disambiguate by looking for a matching ')' followed directly by a
		// relational operator.
		if p.parenStartsComparison() {
			return p.parseCmpFactor()
		}
		p.advance()
		inner, err := p.parseBool()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return &ast.ParenBoolFactor{Inner: inner, Pos: tok.Pos}, nil
	case token.Amp, token.Pipe:
		// Single '&'/'|' never lex as boolean connectives; reject outright
		// instead of silently dropping one operand the way a naive grammar
		// extension would.
		return nil, &perr.ParseError{Pos: tok.Pos, Msg: "single '" + tok.Kind.String() + "' is not a boolean operator; use '" + tok.Kind.String() + tok.Kind.String() + "'"}
	default:
		return p.parseCmpFactor()
	}
}

// parenStartsComparison scans ahead from a '(' to find its matching ')'
// and reports whether a relational operator immediately follows, which
// means the '(' opens a parenthesized arithmetic expression rather than a
// nested Bool.
func (p *Parser) parenStartsComparison() bool {
	depth := 0
	for i := p.pos; i < len(p.toks); i++ {
		switch p.toks[i].Kind {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
			if depth == 0 {
				if i+1 >= len(p.toks) {
					return false
				}
				return isRelop(p.toks[i+1].Kind)
			}
		case token.EOF:
			return false
		}
	}
	return false
}

func isRelop(k token.Kind) bool {
	switch k {
	case token.Eq, token.Neq, token.Lt, token.Leq, token.Gt, token.Geq:
		return true
	}
	return false
}

func (p *Parser) parseCmpFactor() (*ast.CmpFactor, error) {
	pos := p.cur().Pos
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	op, ok := cmpOpOf(p.cur().Kind)
	if !ok {
		return nil, &perr.ParseError{Pos: p.cur().Pos, Msg: "expected a comparison operator, found " + p.cur().Kind.String()}
	}
	p.advance()
	right, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	return &ast.CmpFactor{Op: op, Left: left, Right: right, Pos: pos}, nil
}

func cmpOpOf(k token.Kind) (ast.CmpOp, bool) {
	switch k {
	case token.Eq:
		return ast.CmpEq, true
	case token.Neq:
		return ast.CmpNe, true
	case token.Lt:
		return ast.CmpLt, true
	case token.Leq:
		return ast.CmpLe, true
	case token.Gt:
		return ast.CmpGt, true
	case token.Geq:
		return ast.CmpGe, true
	}
	return 0, false
}
