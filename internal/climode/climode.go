// Package climode is the shared flag surface every STF tool binds, per
// spec §6.4: every tool takes a positional trace path, an optional -o
// output path, an optional -s/-e instruction range, a -u user-mode filter,
// and gets -V/-h for free from cobra. One reusable piece of plumbing
// instead of duplicating the same five flags in thirty main.go files.
package climode

import (
	"fmt"

	"github.com/sparcians/stf-tools/internal/toolconfig"
	"github.com/spf13/cobra"
)

// Flags holds the values bound by Register, after cobra has parsed them.
type Flags struct {
	Output     string
	StartInst  uint64
	EndInst    uint64
	UserOnly   bool
	PrintVer   bool
	ConfigPath string
}

// Register attaches the shared persistent flags to cmd and returns the
// Flags struct they populate once cmd.Execute() has run.
func Register(cmd *cobra.Command) *Flags {
	f := &Flags{}
	cmd.PersistentFlags().StringVarP(&f.Output, "output", "o", "", "output trace path")
	cmd.PersistentFlags().Uint64VarP(&f.StartInst, "start", "s", 1, "first instruction index (1-based, inclusive)")
	cmd.PersistentFlags().Uint64VarP(&f.EndInst, "end", "e", 0, "last instruction index (inclusive); 0 means through EOF")
	cmd.PersistentFlags().BoolVarP(&f.UserOnly, "user", "u", false, "only consider user-mode instructions")
	cmd.PersistentFlags().BoolVarP(&f.PrintVer, "version", "V", false, "print version and exit")
	cmd.PersistentFlags().StringVar(&f.ConfigPath, "config", "", "optional TOML defaults file (chunk size, disabled features, MAVIS path)")
	return f
}

// LoadConfig loads the TOML defaults file named by -config, or a zero
// Config if the flag was left empty.
func (f *Flags) LoadConfig() (*toolconfig.Config, error) {
	return toolconfig.Load(f.ConfigPath)
}

// Version is substituted at link time in the teacher's tradition of a
// package-level var left at its default for local builds.
var Version = "dev"

// PrintVersionAndExit writes the tool's version banner to stdout and
// returns a sentinel the caller's RunE can propagate as a clean exit.
func PrintVersionAndExit(toolName string) error {
	fmt.Printf("%s (stf-tools) %s\n", toolName, Version)
	return ErrVersionPrinted
}

// ErrVersionPrinted is returned by PrintVersionAndExit; main() checks for
// it with errors.Is and exits 0 instead of printing a cobra usage error.
var ErrVersionPrinted = versionSentinel{}

type versionSentinel struct{}

func (versionSentinel) Error() string { return "version printed" }

// RequireArg extracts the single positional trace-path argument cobra
// collected, the way every one of these tools expects exactly one.
func RequireArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one trace path argument, got %d", len(args))
	}
	return args[0], nil
}
