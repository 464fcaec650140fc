// Package parser implements a recursive-descent parser for a flat Program
// of method-definitions, each with a typed
// parameter list and a brace-delimited body of statements. It resolves
// every identifier reference against a lexical scope stack as it parses,
// raising a *perr.ParseError the moment a name cannot be resolved, so
// resolution is not deferred to a later pass.
package parser

import (
	"fmt"

	"github.com/park671/pcc-go/internal/ast"
	"github.com/park671/pcc-go/internal/perr"
	"github.com/park671/pcc-go/internal/token"
	"github.com/park671/pcc-go/internal/types"
)

// methodSig is a method's call-site shape, registered by a pre-scan of the
// token stream before the body parse begins so forward and recursive
// calls resolve regardless of definition order.
type methodSig struct {
	Params []types.Type
	Ret    types.Type
	Extern bool
}

type scope map[string]types.Type

// Parser consumes a flat token slice and produces an *ast.Program.
type Parser struct {
	toks []token.Token
	pos  int

	methods map[string]*methodSig
	scopes  []scope
}

// Parse tokenizes src is assumed already done by the caller; Parse builds
// the AST from toks.
func Parse(toks []token.Token) (*ast.Program, error) {
	methods, err := prescanMethods(toks)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks, methods: methods}
	return p.parseProgram()
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) token.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(k token.Kind) (token.Token, error) {
	if p.cur().Kind != k {
		return token.Token{}, &perr.ParseError{
			Pos: p.cur().Pos,
			Msg: fmt.Sprintf("expected %s, found %s %q", k, p.cur().Kind, p.cur().Text),
		}
	}
	return p.advance(), nil
}

func (p *Parser) pushScope()       { p.scopes = append(p.scopes, scope{}) }
func (p *Parser) popScope()        { p.scopes = p.scopes[:len(p.scopes)-1] }
func (p *Parser) declare(name string, t types.Type) {
	p.scopes[len(p.scopes)-1][name] = t
}

func (p *Parser) lookup(name string) (types.Type, bool) {
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if t, ok := p.scopes[i][name]; ok {
			return t, true
		}
	}
	return types.Type{}, false
}

// isTypeStart reports whether k begins a type name.
func isTypeStart(k token.Kind) bool {
	switch k {
	case token.KwVoid, token.KwI8, token.KwI16, token.KwI32, token.KwI64, token.KwF32, token.KwF64:
		return true
	}
	return false
}

func primitiveOf(k token.Kind) types.Primitive {
	switch k {
	case token.KwVoid:
		return types.Void
	case token.KwI8:
		return types.I8
	case token.KwI16:
		return types.I16
	case token.KwI32:
		return types.I32
	case token.KwI64:
		return types.I64
	case token.KwF32:
		return types.F32
	case token.KwF64:
		return types.F64
	}
	return types.Void
}

// parseType consumes a type keyword and an optional trailing '*'.
func (p *Parser) parseType() (types.Type, error) {
	if !isTypeStart(p.cur().Kind) {
		return types.Type{}, &perr.ParseError{Pos: p.cur().Pos, Msg: "expected a type, found " + p.cur().Kind.String()}
	}
	prim := primitiveOf(p.cur().Kind)
	p.advance()
	if p.cur().Kind == token.Star {
		p.advance()
		return types.Ptr(prim), nil
	}
	return types.Scalar(prim), nil
}

// prescanMethods walks the token stream once at top level (brace depth 0)
// registering every method-definition's call shape without building any
// AST, so the full parse below can resolve forward and recursive calls.
func prescanMethods(toks []token.Token) (map[string]*methodSig, error) {
	methods := map[string]*methodSig{}
	i := 0
	for i < len(toks) && toks[i].Kind != token.EOF {
		extern := false
		if toks[i].Kind == token.KwExtern {
			extern = true
			i++
		}
		if !isTypeStart(toks[i].Kind) {
			return nil, &perr.ParseError{Pos: toks[i].Pos, Msg: "expected a method return type, found " + toks[i].Kind.String()}
		}
		ret := types.Scalar(primitiveOf(toks[i].Kind))
		i++
		if toks[i].Kind == token.Star {
			ret.Pointer = true
			i++
		}
		if toks[i].Kind != token.Ident {
			return nil, &perr.ParseError{Pos: toks[i].Pos, Msg: "expected a method name, found " + toks[i].Kind.String()}
		}
		name := toks[i].Text
		i++
		if toks[i].Kind != token.LParen {
			return nil, &perr.ParseError{Pos: toks[i].Pos, Msg: "expected '(' after method name"}
		}
		i++
		var params []types.Type
		for toks[i].Kind != token.RParen {
			if !isTypeStart(toks[i].Kind) {
				return nil, &perr.ParseError{Pos: toks[i].Pos, Msg: "expected a parameter type, found " + toks[i].Kind.String()}
			}
			pt := types.Scalar(primitiveOf(toks[i].Kind))
			i++
			if toks[i].Kind == token.Star {
				pt.Pointer = true
				i++
			}
			if toks[i].Kind == token.Ident {
				i++ // parameter name, unused during prescan
			}
			params = append(params, pt)
			if toks[i].Kind == token.Comma {
				i++
			}
		}
		i++ // consume ')'
		methods[name] = &methodSig{Params: params, Ret: ret, Extern: extern}

		if toks[i].Kind == token.Semi {
			i++
			continue
		}
		if toks[i].Kind != token.LBrace {
			return nil, &perr.ParseError{Pos: toks[i].Pos, Msg: "expected '{' or ';' after method signature"}
		}
		depth := 0
		for {
			switch toks[i].Kind {
			case token.LBrace:
				depth++
			case token.RBrace:
				depth--
			}
			i++
			if depth == 0 {
				break
			}
		}
	}
	return methods, nil
}

func (p *Parser) parseProgram() (*ast.Program, error) {
	pos := p.cur().Pos
	prog := &ast.Program{Pos: pos}
	for p.cur().Kind != token.EOF {
		m, err := p.parseMethod()
		if err != nil {
			return nil, err
		}
		prog.Methods = append(prog.Methods, m)
	}
	return prog, nil
}

func (p *Parser) parseMethod() (*ast.Method, error) {
	pos := p.cur().Pos
	extern := false
	if p.cur().Kind == token.KwExtern {
		extern = true
		p.advance()
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}

	p.pushScope()
	var params []ast.Param
	for p.cur().Kind != token.RParen {
		ppos := p.cur().Pos
		pt, err := p.parseType()
		if err != nil {
			return nil, err
		}
		pname, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		params = append(params, ast.Param{Name: pname.Text, Type: pt, Pos: ppos})
		p.declare(pname.Text, pt)
		if p.cur().Kind == token.Comma {
			p.advance()
		}
	}
	p.advance() // ')'

	method := &ast.Method{Name: nameTok.Text, ReturnType: ret, Params: params, Extern: extern, Pos: pos}
	if p.cur().Kind == token.Semi {
		p.advance()
		p.popScope()
		return method, nil
	}
	body, err := p.parseBlock()
	p.popScope()
	if err != nil {
		return nil, err
	}
	method.Body = body
	return method, nil
}

func (p *Parser) parseBlock() (*ast.Block, error) {
	pos := p.cur().Pos
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	p.pushScope()
	defer p.popScope()
	blk := &ast.Block{Pos: pos}
	for p.cur().Kind != token.RBrace {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, s)
	}
	p.advance() // '}'
	return blk, nil
}

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur().Kind {
	case token.LBrace:
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &ast.BlockStmt{Block: b, Pos: b.Pos}, nil
	case token.KwIf:
		return p.parseIf()
	case token.KwWhile:
		return p.parseWhile()
	case token.KwFor:
		return p.parseFor()
	case token.KwReturn:
		return p.parseReturn()
	}
	if isTypeStart(p.cur().Kind) {
		return p.parseDefine()
	}
	return p.parseExprStmt()
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	pos := p.advance().Pos // 'if'
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseBool()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	var elseStmt ast.Stmt
	if p.cur().Kind == token.KwElse {
		p.advance()
		elseStmt, err = p.parseStmt()
		if err != nil {
			return nil, err
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: elseStmt, Pos: pos}, nil
}

func (p *Parser) parseWhile() (ast.Stmt, error) {
	pos := p.advance().Pos // 'while'
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseBool()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Cond: cond, Body: body, Pos: pos}, nil
}

func (p *Parser) parseFor() (ast.Stmt, error) {
	pos := p.advance().Pos // 'for'
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	p.pushScope()
	defer p.popScope()

	var init ast.Stmt
	var err error
	if p.cur().Kind != token.Semi {
		if isTypeStart(p.cur().Kind) {
			init, err = p.parseDefineNoSemi()
		} else {
			init, err = p.parseExprStmtNoSemi()
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}

	var cond *ast.Bool
	if p.cur().Kind != token.Semi {
		cond, err = p.parseBool()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}

	var step ast.Stmt
	if p.cur().Kind != token.RParen {
		step, err = p.parseExprStmtNoSemi()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}

	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &ast.ForStmt{Init: init, Cond: cond, Step: step, Body: body, Pos: pos}, nil
}

func (p *Parser) parseReturn() (ast.Stmt, error) {
	pos := p.advance().Pos // 'return'
	if p.cur().Kind == token.Semi {
		p.advance()
		return &ast.ReturnStmt{Pos: pos}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{Value: val, Pos: pos}, nil
}

func (p *Parser) parseDefine() (ast.Stmt, error) {
	s, err := p.parseDefineNoSemi()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) parseDefineNoSemi() (ast.Stmt, error) {
	pos := p.cur().Pos
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Assign); err != nil {
		return nil, err
	}
	init, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.declare(nameTok.Text, t)
	return &ast.DefineStmt{Name: nameTok.Text, Type: t, Init: init, Pos: pos}, nil
}

func (p *Parser) parseExprStmt() (ast.Stmt, error) {
	s, err := p.parseExprStmtNoSemi()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) parseExprStmtNoSemi() (ast.Stmt, error) {
	pos := p.cur().Pos
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Expr: e, Pos: pos}, nil
}

// parseExpr parses an assignment if the lookahead shows `ident =` (and
// that ident does not open a call), otherwise falls through to a bare
// arithmetic expression or a call/pointer factor used as a statement.
func (p *Parser) parseExpr() (ast.Expr, error) {
	if p.cur().Kind == token.Ident && p.peekAt(1).Kind == token.Assign {
		pos := p.cur().Pos
		name := p.advance().Text
		if _, ok := p.lookup(name); !ok {
			return nil, &perr.ParseError{Pos: pos, Msg: "undefined identifier: " + name}
		}
		p.advance() // '='
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.AssignExpr{Target: name, Value: value, Pos: pos}, nil
	}
	if p.cur().Kind == token.Ident && p.peekAt(1).Kind == token.LParen {
		return p.parseCall()
	}
	arith, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	return arith, nil
}

func (p *Parser) parseCall() (*ast.CallExpr, error) {
	pos := p.cur().Pos
	nameTok := p.advance()
	sig, ok := p.methods[nameTok.Text]
	if !ok {
		return nil, &perr.ParseError{Pos: pos, Msg: "undefined method: " + nameTok.Text}
	}
	p.advance() // '('
	var args []ast.Expr
	for p.cur().Kind != token.RParen {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.cur().Kind == token.Comma {
			p.advance()
		}
	}
	p.advance() // ')'
	if len(args) != len(sig.Params) {
		return nil, &perr.ParseError{Pos: pos, Msg: fmt.Sprintf("method %s expects %d arguments, found %d", nameTok.Text, len(sig.Params), len(args))}
	}
	return &ast.CallExpr{Name: nameTok.Text, Args: args, Pos: pos}, nil
}

// parseArith parses a left-associative sum of ArithTerm values.
func (p *Parser) parseArith() (*ast.ArithExpr, error) {
	pos := p.cur().Pos
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	e := &ast.ArithExpr{Terms: []*ast.ArithTerm{first}, Pos: pos}
	for p.cur().Kind == token.Plus || p.cur().Kind == token.Minus {
		op := ast.OpAdd
		if p.cur().Kind == token.Minus {
			op = ast.OpSub
		}
		p.advance()
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		e.Terms = append(e.Terms, t)
		e.Ops = append(e.Ops, op)
	}
	return e, nil
}

// parseTerm parses a left-associative product of Factor values.
func (p *Parser) parseTerm() (*ast.ArithTerm, error) {
	pos := p.cur().Pos
	first, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	t := &ast.ArithTerm{Factors: []ast.Factor{first}, Pos: pos}
	for p.cur().Kind == token.Star || p.cur().Kind == token.Slash || p.cur().Kind == token.Percent {
		var op ast.MulOp
		switch p.cur().Kind {
		case token.Star:
			op = ast.OpMul
		case token.Slash:
			op = ast.OpDiv
		case token.Percent:
			op = ast.OpMod
		}
		p.advance()
		f, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		t.Factors = append(t.Factors, f)
		t.Ops = append(t.Ops, op)
	}
	return t, nil
}

func (p *Parser) parseFactor() (ast.Factor, error) {
	tok := p.cur()
	switch tok.Kind {
	case token.IntLit:
		p.advance()
		return parseIntLit(tok)
	case token.FloatLit:
		p.advance()
		var v float64
		fmt.Sscanf(tok.Text, "%g", &v)
		return &ast.FloatLit{Value: v, Type: types.F64, Pos: tok.Pos}, nil
	case token.StringLit:
		p.advance()
		return stringToArrayLit(tok), nil
	case token.LBracket:
		return p.parseArrayLit()
	case token.Amp:
		p.advance()
		name, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, ok := p.lookup(name.Text); !ok {
			return nil, &perr.ParseError{Pos: name.Pos, Msg: "undefined identifier: " + name.Text}
		}
		return &ast.AddrOfFactor{Name: name.Text, Pos: tok.Pos}, nil
	case token.Star:
		p.advance()
		name, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, ok := p.lookup(name.Text); !ok {
			return nil, &perr.ParseError{Pos: name.Pos, Msg: "undefined identifier: " + name.Text}
		}
		return &ast.DerefFactor{Name: name.Text, Pos: tok.Pos}, nil
	case token.LParen:
		p.advance()
		inner, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return &ast.ParenFactor{Inner: inner, Pos: tok.Pos}, nil
	case token.Ident:
		if p.peekAt(1).Kind == token.LParen {
			return p.parseCall()
		}
		p.advance()
		if _, ok := p.lookup(tok.Text); !ok {
			return nil, &perr.ParseError{Pos: tok.Pos, Msg: "undefined identifier: " + tok.Text}
		}
		return &ast.IdentFactor{Name: tok.Text, Pos: tok.Pos}, nil
	}
	return nil, &perr.ParseError{Pos: tok.Pos, Msg: "unexpected token in expression: " + tok.Kind.String()}
}

func (p *Parser) parseArrayLit() (*ast.ArrayLit, error) {
	pos := p.advance().Pos // '['
	lit := &ast.ArrayLit{Pos: pos}
	for p.cur().Kind != token.RBracket {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, e)
		if p.cur().Kind == token.Comma {
			p.advance()
		}
	}
	p.advance() // ']'
	return lit, nil
}

func parseIntLit(tok token.Token) (*ast.IntLit, error) {
	var v int64
	if _, err := fmt.Sscanf(tok.Text, "%d", &v); err != nil {
		return nil, &perr.ParseError{Pos: tok.Pos, Msg: "malformed integer literal: " + tok.Text}
	}
	return &ast.IntLit{Value: v, Type: narrowestFit(v), Pos: tok.Pos}, nil
}

// narrowestFit assigns an integer literal the smallest primitive type that
// fits it.
func narrowestFit(v int64) types.Primitive {
	switch {
	case v >= -128 && v <= 127:
		return types.I8
	case v >= -32768 && v <= 32767:
		return types.I16
	case v >= -2147483648 && v <= 2147483647:
		return types.I32
	default:
		return types.I64
	}
}

// stringToArrayLit lowers a string literal to a char array literal (each
// byte as an i8 IntLit), matching the grammar sketch's "string (lowered to
// a char array)", with a trailing NUL terminator the way a C string
// literal carries one.
func stringToArrayLit(tok token.Token) *ast.ArrayLit {
	lit := &ast.ArrayLit{Pos: tok.Pos}
	byteExpr := func(v int64) ast.Expr {
		f := &ast.IntLit{Value: v, Type: types.I8, Pos: tok.Pos}
		return &ast.ArithExpr{Terms: []*ast.ArithTerm{{Factors: []ast.Factor{f}, Pos: tok.Pos}}, Pos: tok.Pos}
	}
	for i := 0; i < len(tok.Text); i++ {
		lit.Elems = append(lit.Elems, byteExpr(int64(tok.Text[i])))
	}
	lit.Elems = append(lit.Elems, byteExpr(0))
	return lit
}
