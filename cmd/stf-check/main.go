// Command stf-check is the trace validator: it reads a trace end to end
// and reports violations of the invariants in §3.2 and the testable
// properties in §8, with the exit codes §6.4/§7 describe. It is a
// read-only pass exercising every core component (A-G) plus go-pretty for
// the summary table.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sparcians/stf-tools/internal/climode"
	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
	"github.com/spf13/cobra"
)

// violation is one reported validator finding.
type violation struct {
	kind  string
	index uint64
	msg   string
}

func main() {
	log.SetFlags(0)

	rootCmd := &cobra.Command{
		Use:   "stf-check <trace>",
		Short: "Validate a trace against its format invariants",
		Args:  cobra.ExactArgs(1),
	}
	flags := climode.Register(rootCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.PrintVer {
			return climode.PrintVersionAndExit("stf-check")
		}
		path, err := climode.RequireArg(args)
		if err != nil {
			return err
		}
		violations, err := check(path, flags)
		if err != nil {
			log.Println(err)
			os.Exit(1)
		}
		report(violations)
		// Exit codes per the shared tool contract: 1 for a single
		// validator error, 255 when more follow.
		switch {
		case len(violations) > 1:
			os.Exit(255)
		case len(violations) == 1:
			os.Exit(1)
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, climode.ErrVersionPrinted) {
			return
		}
		log.Fatal(err)
	}
}

func check(path string, flags *climode.Flags) ([]violation, error) {
	r, err := stream.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var violations []violation

	if r.Params.HasProcessID && !r.Params.Features.Has(record.FeatureProcessIDPresent) {
		violations = append(violations, violation{
			kind: "feature-stale", index: 0,
			msg: "PROCESS_ID_EXT present in header but process_id_present bit is clear (accepted, per source behavior)",
		})
	}

	dec := decoder.New()
	asm := inst.NewAssembler(r, dec)
	asm.SetUserModeOnly(flags.UserOnly)

	var prevPC uint64
	var prevSize int
	var havePrev bool

	for {
		instr, err := asm.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				break
			}
			return nil, err
		}

		if havePrev {
			expected := prevPC + uint64(prevSize)
			if instr.PC() != expected && !instr.IsChangeOfFlow() {
				violations = append(violations, violation{
					kind: "pc-discontinuity", index: instr.Index(),
					msg: fmt.Sprintf("pc=0x%x, expected 0x%x (no exemption for interrupt-delivered targets, per source behavior)", instr.PC(), expected),
				})
			}
		}
		prevPC, prevSize, havePrev = instr.PC(), instr.OpcodeSize(), true

		if len(instr.Events) > 0 && !r.Params.Features.Has(record.FeatureEventPresent) {
			violations = append(violations, violation{kind: "feature-mismatch", index: instr.Index(), msg: "EVENT record present but event_present bit is clear"})
		}
		if len(instr.MicroOps) > 0 && !r.Params.Features.Has(record.FeatureMicroop) {
			violations = append(violations, violation{kind: "feature-mismatch", index: instr.Index(), msg: "INST_MICROOP present but microop bit is clear"})
		}
		if len(instr.EmbeddedPTEs) > 0 && !r.Params.Features.Has(record.FeaturePTEEmbedded) {
			violations = append(violations, violation{kind: "feature-mismatch", index: instr.Index(), msg: "embedded PAGE_TABLE_WALK present but pte_embedded bit is clear"})
		}

		// A physical address on an access when the feature bit is clear can't
		// survive decode (the codec never reads the field without the bit),
		// so only the offset-agreement half of invariant 8 is checkable here.
		for _, m := range instr.MemAccesses {
			if m.Access.PAddrValid && m.Access.VAddr&0xfff != m.Access.PAddr&0xfff {
				violations = append(violations, violation{kind: "addr-mismatch", index: instr.Index(), msg: "virtual/physical address low-12-bit page offsets disagree"})
			}
		}
	}

	return violations, nil
}

func report(violations []violation) {
	if len(violations) == 0 {
		fmt.Println("stf-check: no violations found")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Instruction", "Kind", "Detail"})
	for _, v := range violations {
		t.AppendRow(table.Row{v.index, v.kind, v.msg})
	}
	t.Render()
	fmt.Printf("stf-check: %d violation(s)\n", len(violations))
}
