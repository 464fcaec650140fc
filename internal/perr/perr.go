// Package perr defines the fatal error categories this compiler raises:
// parse errors, semantic errors, and encoding range errors. Internal
// invariant failures are not modeled here — they panic with an "ICE: "
// prefix at the point of detection.
package perr

import (
	"fmt"

	"github.com/park671/pcc-go/internal/token"
)

// ParseError reports an unexpected token, an undefined identifier or
// method, or a missing type at a position requiring one.
type ParseError struct {
	Pos token.Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %s", e.Pos, e.Msg)
}

// SemanticError reports a MIR-generation-time semantic failure, such as use
// of an unresolvable primitive type on a path that reached MIR.
type SemanticError struct {
	Pos token.Pos
	Msg string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("%s: semantic error: %s", e.Pos, e.Msg)
}

// EncodingRangeError reports an immediate or branch offset that does not
// fit its target field after relocation. These are bugs of program size,
// not of logic: no spill-to-literal-pool is attempted.
type EncodingRangeError struct {
	Msg string
}

func (e *EncodingRangeError) Error() string {
	return fmt.Sprintf("encoding range error: %s", e.Msg)
}

// ICE panics with the conventional internal-compiler-error prefix used
// throughout this codebase for invariant violations that indicate a
// compiler bug rather than a malformed input program.
func ICE(format string, args ...interface{}) {
	panic("ICE: " + fmt.Sprintf(format, args...))
}
