// Command stf-count reports a per-mnemonic instruction histogram,
// exercising the decoder adapter (F) and go-pretty's table rendering.
package main

import (
	"errors"
	"log"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sparcians/stf-tools/internal/climode"
	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)

	rootCmd := &cobra.Command{
		Use:   "stf-count <trace>",
		Short: "Print a per-mnemonic instruction histogram",
		Args:  cobra.ExactArgs(1),
	}
	flags := climode.Register(rootCmd)
	var memStats bool
	rootCmd.Flags().BoolVar(&memStats, "mem", false, "count memory accesses instead of instructions")
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.PrintVer {
			return climode.PrintVersionAndExit("stf-count")
		}
		path, err := climode.RequireArg(args)
		if err != nil {
			return err
		}
		if memStats {
			return runMem(path)
		}
		return run(path, flags)
	}

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, climode.ErrVersionPrinted) {
			return
		}
		log.Fatal(err)
	}
}

// runMem walks only the memory-access dimension of the trace, without
// assembling instruction units.
func runMem(path string) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	it := inst.NewMemoryAccessIterator(r)
	var reads, writes, readBytes, writeBytes uint64
	for {
		m, err := it.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				break
			}
			return err
		}
		if m.Access.Type == record.MemAccessWrite {
			writes++
			writeBytes += uint64(m.Access.Size)
		} else {
			reads++
			readBytes += uint64(m.Access.Size)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Direction", "Accesses", "Bytes"})
	t.AppendRow(table.Row{"read", reads, readBytes})
	t.AppendRow(table.Row{"write", writes, writeBytes})
	t.AppendFooter(table.Row{"TOTAL", reads + writes, readBytes + writeBytes})
	t.Render()
	return nil
}

func run(path string, flags *climode.Flags) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	dec := decoder.New()
	asm := inst.NewAssembler(r, dec)
	asm.SetUserModeOnly(flags.UserOnly)

	counts := make(map[string]uint64)
	var total uint64

	for {
		instr, err := asm.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				break
			}
			return err
		}
		if instr.Index() < flags.StartInst {
			continue
		}
		if flags.EndInst != 0 && instr.Index() > flags.EndInst {
			break
		}
		counts[dec.Mnemonic(instr.Opcode(), instr.OpcodeSize())]++
		total++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return counts[names[i]] > counts[names[j]] })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Mnemonic", "Count", "% of total"})
	for _, name := range names {
		pct := float64(counts[name]) * 100 / float64(total)
		t.AppendRow(table.Row{name, counts[name], pct})
	}
	t.AppendFooter(table.Row{"TOTAL", total, 100.0})
	t.Render()
	return nil
}
