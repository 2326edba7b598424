package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CedricHerzog/perfowl/internal/nsysconv"
)

var (
	nsysLinkOutputPath string
	nsysLinkVerbose    bool
)

var nsysLinkCmd = &cobra.Command{
	Use:   "nsyslink <trace.json>",
	Short: "Link CPU-side user_annotation spans to the GPU kernels they launched",
	Long: `Applies the user-annotation replacement policy to an already-produced
Chrome trace (for example a PyTorch/kineto export this module did not
generate itself): every user_annotation span overlapping a cuda_runtime
call that in turn launched a kernel gets a synthesized gpu_user_annotation
span covering the convex hull of those kernels. The original CPU-side
user_annotation span is always kept; only a pre-existing
gpu_user_annotation of the same name is replaced.

Examples:
  perfowl nsyslink trace.json
  perfowl nsyslink trace.json -o linked.json -v`,
	Args: cobra.ExactArgs(1),
	RunE: runNsysLink,
}

func init() {
	rootCmd.AddCommand(nsysLinkCmd)
	nsysLinkCmd.Flags().StringVarP(&nsysLinkOutputPath, "output", "o", "", "Output file name (default: input name with .linked.json suffix)")
	nsysLinkCmd.Flags().BoolVarP(&nsysLinkVerbose, "verbose", "v", false, "Log counts of user_annotation/cuda_runtime/kernel events found")
}

func runNsysLink(cmd *cobra.Command, args []string) error {
	input := args[0]

	output := nsysLinkOutputPath
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = base + ".linked.json"
	}

	events, err := nsysconv.ReadChromeTrace(input)
	if err != nil {
		return fmt.Errorf("reading %s: %w", input, err)
	}

	linked := nsysconv.LinkUserAnnotations(events, nsysLinkVerbose)

	if err := nsysconv.ValidateChromeTrace(linked); err != nil {
		return fmt.Errorf("linked trace failed validation: %w", err)
	}

	if err := nsysconv.WriteChromeTrace(output, linked); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Printf("Wrote %s\n", output)
	return nil
}
