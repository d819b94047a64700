// Command stf-dump renders a trace's instructions and their collaborator
// records as text, the way the out-of-scope original `stf_dump` tool does,
// exercising the record codec, stream reader, instruction assembler, and
// decoder adapter end to end (§1 component B/D/E/F).
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/sparcians/stf-tools/internal/climode"
	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
	"github.com/spf13/cobra"
)

// disasmBackend reports the STF_DISASM back-end name (§6.5); core decode
// semantics never change, only this label and (for a real binutils bridge)
// string formatting would.
func disasmBackend() string {
	if v := os.Getenv("STF_DISASM"); v != "" {
		return v
	}
	return "MAVIS"
}

func main() {
	log.SetFlags(0)

	rootCmd := &cobra.Command{
		Use:   "stf-dump <trace>",
		Short: "Dump a trace's instructions as text",
		Args:  cobra.ExactArgs(1),
	}
	flags := climode.Register(rootCmd)
	var ptesOnly bool
	var tracepointOnly bool
	rootCmd.Flags().BoolVar(&ptesOnly, "ptes", false, "list only PAGE_TABLE_WALK records")
	rootCmd.Flags().BoolVar(&tracepointOnly, "tracepoint", false, "dump only instructions between markpoint pairs")
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.PrintVer {
			return climode.PrintVersionAndExit("stf-dump")
		}
		path, err := climode.RequireArg(args)
		if err != nil {
			return err
		}
		cfg, err := flags.LoadConfig()
		if err != nil {
			return err
		}
		if ptesOnly {
			return runPTEs(path)
		}
		return run(path, flags, cfg.MavisPathOrEnv(), tracepointOnly)
	}

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, climode.ErrVersionPrinted) {
			return
		}
		log.Fatal(err)
	}
}

// runPTEs walks only the PAGE_TABLE_WALK dimension of the trace, without
// assembling instruction units.
func runPTEs(path string) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	it := inst.NewPageTableWalkIterator(r)
	for {
		walk, err := it.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				return nil
			}
			return err
		}
		fmt.Printf("va=0x%016x pa=0x%016x page=2^%d first_use=%d entries=%d\n",
			walk.VAddr, walk.PAddr, walk.PageSizeLog2, walk.FirstUseIndex, len(walk.Entries))
	}
}

func run(path string, flags *climode.Flags, mavisPath string, tracepointOnly bool) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	dec := decoder.New()
	asm := inst.NewAssembler(r, dec)
	asm.SetUserModeOnly(flags.UserOnly)

	next := asm.Next
	if tracepointOnly {
		tp := inst.NewTracepointIterator(asm, dec)
		next = tp.Next
	}

	out := os.Stdout
	fmt.Fprintf(out, "# STF %d.%d  isa=%v  iem=%v  vlen=%d  features=0x%x  disasm=%s",
		r.Params.Major, r.Params.Minor, r.Params.ISA, r.Params.IEM, r.Params.Vlen, uint64(r.Params.Features), disasmBackend())
	if mavisPath != "" {
		fmt.Fprintf(out, "  mavis=%s", mavisPath)
	}
	fmt.Fprintln(out)
	for _, ti := range r.Params.TraceInfos {
		fmt.Fprintf(out, "# generator=%d version=%q comment=%q\n", ti.GeneratorID, ti.Version, ti.Comment)
	}

	for {
		instr, err := next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				return nil
			}
			return err
		}
		if instr.Index() < flags.StartInst {
			continue
		}
		if flags.EndInst != 0 && instr.Index() > flags.EndInst {
			return nil
		}
		dumpInstruction(out, instr, dec)
	}
}

func dumpInstruction(out *os.File, instr *inst.Instruction, dec *decoder.Decoder) {
	mnemonic := dec.Mnemonic(instr.Opcode(), instr.OpcodeSize())
	fmt.Fprintf(out, "%8d: pc=0x%016x op=0x%x (%2db) %-10s %s\n",
		instr.Index(), instr.PC(), instr.Opcode(), instr.OpcodeSize(), mnemonic,
		dec.Disassembly(instr.Opcode(), instr.OpcodeSize()))
	for _, s := range instr.SourceOperands {
		fmt.Fprintf(out, "             src  reg=%d values=%v\n", s.Reg, s.Values)
	}
	for _, d := range instr.DestOperands {
		fmt.Fprintf(out, "             dst  reg=%d values=%v\n", d.Reg, d.Values)
	}
	for _, m := range instr.MemAccesses {
		dir := "read"
		if m.Access.Type == record.MemAccessWrite {
			dir = "write"
		}
		fmt.Fprintf(out, "             mem  %s vaddr=0x%x size=%d\n", dir, m.Access.VAddr, m.Access.Size)
	}
	for _, e := range instr.Events {
		fmt.Fprintf(out, "             event type=0x%x data=%v\n", e.EventType, e.Data)
	}
	for _, c := range instr.Comments {
		fmt.Fprintf(out, "             # %s\n", c.Text)
	}
}
