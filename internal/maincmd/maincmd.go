// Package maincmd is cmd/pcc's command implementation, kept separate from
// main(): main() only builds a Cmd and hands it os.Args/mainer.CurrentStdio(),
// everything else lives here so it can be driven by tests without touching
// the process's real argv or file descriptors.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mna/mainer"
)

const binName = "pcc"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <source.p>
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <source.p>
       %[1]s -h|--help
       %[1]s -v|--version

Compiles one source file written in a small C-like language straight to
native ARM64 machine code, packaged as an executable for the selected
target platform.

Valid flag options are:
       -o <path>                 Output path (default a.out).
       -O <level>                Optimization level: 0 (none) or 1
                                 (Mir2 constant folding and forward
                                 substitution).
       -S                        Emit a textual listing of the encoded
                                 instruction stream instead of a container
                                 binary.
       -a <arch>                 Target architecture: arm64 (default) or
                                 x86_64. x86_64 code generation is not yet
                                 implemented.
       -p <platform>             Target platform: linux (default), macos,
                                 windows, or bare.
       -shared                   Produce a position-independent shared
                                 object instead of an executable (ELF only).
       -fpic                     Accepted; has no effect on the output.
       -debug                    Print a per-stage allocation breakdown.
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
`, binName)
)

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Output  string `flag:"o"`
	OptO    int    `flag:"O"`
	EmitAsm bool   `flag:"S"`
	Arch    string `flag:"a"`
	Plat    string `flag:"p"`
	Shared  bool   `flag:"shared"`
	PIC     bool   `flag:"fpic"`
	Debug   bool   `flag:"debug"`

	args []string
}

func (c *Cmd) SetArgs(args []string) { c.args = args }
func (c *Cmd) SetFlags(map[string]bool) {}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) == 0 {
		return errors.New("no source file specified")
	}
	if len(c.args) > 1 {
		return fmt.Errorf("only one source file may be given, got %d", len(c.args))
	}
	switch c.Arch {
	case "", "arm64", "x86_64":
	default:
		return fmt.Errorf("unknown architecture %q", c.Arch)
	}
	switch c.Plat {
	case "", "linux", "macos", "windows", "bare":
	default:
		return fmt.Errorf("unknown platform %q", c.Plat)
	}
	if c.Shared && c.Plat == "macos" {
		return errors.New("-shared is not supported for the macos target")
	}
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{EnvVars: false, EnvPrefix: binName + "_"}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.compile(ctx, stdio); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s: %s\n", binName, err)
		return mainer.Failure
	}
	return mainer.Success
}
