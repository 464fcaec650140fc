package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park671/pcc-go/internal/perr"
	"github.com/park671/pcc-go/internal/token"
)

func kinds(t *testing.T, toks []token.Token) []token.Kind {
	t.Helper()
	var out []token.Kind
	for _, tok := range toks {
		out = append(out, tok.Kind)
	}
	return out
}

func TestTokenizeMethodSignature(t *testing.T) {
	toks, err := Tokenize("t.p", []byte("i32 add(i32 a, i32 b) { return a + b; }"))
	require.NoError(t, err)
	assert.Equal(t, []token.Kind{
		token.KwI32, token.Ident, token.LParen, token.KwI32, token.Ident,
		token.Comma, token.KwI32, token.Ident, token.RParen, token.LBrace,
		token.KwReturn, token.Ident, token.Plus, token.Ident, token.Semi,
		token.RBrace, token.EOF,
	}, kinds(t, toks))
}

func TestAmpAndPipeAreStandaloneTokens(t *testing.T) {
	// a lone '&' or '|' is its own reserved token (pointer syntax); only
	// the doubled form is a boolean connective.
	toks, err := Tokenize("t.p", []byte("&a | b && c || d"))
	require.NoError(t, err)
	assert.Equal(t, []token.Kind{
		token.Amp, token.Ident, token.Pipe, token.Ident,
		token.AndAnd, token.Ident, token.OrOr, token.Ident, token.EOF,
	}, kinds(t, toks))
}

func TestKeywordAliasesResolveToCanonicalPrimitive(t *testing.T) {
	toks, err := Tokenize("t.p", []byte("int char short long float double"))
	require.NoError(t, err)
	assert.Equal(t, []token.Kind{
		token.KwI32, token.KwI8, token.KwI16, token.KwI64, token.KwF32, token.KwF64, token.EOF,
	}, kinds(t, toks))
}

func TestCommentsAreSkipped(t *testing.T) {
	toks, err := Tokenize("t.p", []byte("a // trailing comment\n/* block\ncomment */ b"))
	require.NoError(t, err)
	assert.Equal(t, []token.Kind{token.Ident, token.Ident, token.EOF}, kinds(t, toks))
	assert.Equal(t, 3, toks[1].Pos.Line)
}

func TestFloatVsIntLiteral(t *testing.T) {
	toks, err := Tokenize("t.p", []byte("1 2.5 .5"))
	require.NoError(t, err)
	require.Len(t, toks, 4)
	assert.Equal(t, token.IntLit, toks[0].Kind)
	assert.Equal(t, "1", toks[0].Text)
	assert.Equal(t, token.FloatLit, toks[1].Kind)
	assert.Equal(t, "2.5", toks[1].Text)
	assert.Equal(t, token.FloatLit, toks[2].Kind)
	assert.Equal(t, ".5", toks[2].Text)
}

func TestStringEscapes(t *testing.T) {
	toks, err := Tokenize("t.p", []byte(`"a\nb\tc\"d"`))
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "a\nb\tc\"d", toks[0].Text)
}

func TestUnterminatedStringIsParseError(t *testing.T) {
	_, err := Tokenize("t.p", []byte(`"no closing quote`))
	require.Error(t, err)
	var pe *perr.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestUnexpectedCharacterIsParseError(t *testing.T) {
	_, err := Tokenize("t.p", []byte("a $ b"))
	require.Error(t, err)
	var pe *perr.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestPositionsTrackLineAndColumn(t *testing.T) {
	toks, err := Tokenize("f.p", []byte("a\nbb"))
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, token.Pos{File: "f.p", Line: 1, Col: 1}, toks[0].Pos)
	assert.Equal(t, token.Pos{File: "f.p", Line: 2, Col: 1}, toks[1].Pos)
}
