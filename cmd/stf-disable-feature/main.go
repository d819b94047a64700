// Command stf-disable-feature clears one or more feature bits from a
// trace's header, the way the original stf_disable_feature tool validates
// and rewrites a trace's TRACE_INFO_FEATURE bitmap. It is a thin CLI over
// the rewriter facade's ClearFeatures config and header.TogglePolicy.
package main

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/sparcians/stf-tools/internal/climode"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/rewrite"
	"github.com/spf13/cobra"
)

// featureNames maps the --disable flag's accepted names to feature bits,
// the toggleable subset of record.Features (§6.2).
var featureNames = map[string]record.Features{
	"physical-address": record.FeaturePhysicalAddressPresent,
	"data-attribute":    record.FeatureDataAttributePresent,
	"operand-value":     record.FeatureOperandValuePresent,
	"event":             record.FeatureEventPresent,
	"syscall-value":     record.FeatureSyscallValuePresent,
	"int-div-operand":   record.FeatureIntDivOperandValuePresent,
	"pte-embedded":      record.FeaturePTEEmbedded,
	"process-id":        record.FeatureProcessIDPresent,
	"reg-state":         record.FeatureRegStatePresent,
	"microop":           record.FeatureMicroop,
}

func main() {
	log.SetFlags(0)

	rootCmd := &cobra.Command{
		Use:   "stf-disable-feature <trace>",
		Short: "Clear toggleable feature bits from a trace's header",
		Args:  cobra.ExactArgs(1),
	}
	flags := climode.Register(rootCmd)
	var disable []string
	rootCmd.Flags().StringSliceVar(&disable, "disable", nil, "feature bit(s) to clear: "+featureNameList())

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.PrintVer {
			return climode.PrintVersionAndExit("stf-disable-feature")
		}
		path, err := climode.RequireArg(args)
		if err != nil {
			return err
		}
		cfg, err := flags.LoadConfig()
		if err != nil {
			return err
		}
		if len(disable) == 0 {
			disable = cfg.DisableFeatures
		}
		clear, err := resolveFeatures(disable)
		if err != nil {
			return err
		}
		out := flags.Output
		if out == "" {
			out = path
		}
		rw := rewrite.New(rewrite.Config{
			ChunkSize:         cfg.ChunkSize,
			OverwriteExisting: true,
			UserOnly:          flags.UserOnly,
			GeneratorID:       6,
			ToolVersion:       climode.Version,
			ClearFeatures:     clear,
		})
		return rw.Rewrite(path, out, flags.StartInst, flags.EndInst, nil)
	}

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, climode.ErrVersionPrinted) {
			return
		}
		log.Fatal(err)
	}
}

func resolveFeatures(names []string) (record.Features, error) {
	var f record.Features
	for _, name := range names {
		bit, ok := featureNames[name]
		if !ok {
			return 0, fmt.Errorf("stf-disable-feature: unknown feature %q (known: %s)", name, featureNameList())
		}
		f |= bit
	}
	return f, nil
}

func featureNameList() string {
	names := make([]string, 0, len(featureNames))
	for name := range featureNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
