package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CedricHerzog/perfowl/internal/nsysconv"
)

var (
	nsysOutputPath     string
	nsysOutputDir      string
	nsysActivityTypes  []string
	nsysKeepSQLite     bool
	nsysNoMetadata     bool
	nsysUseRustBackend bool
	nsysNVTXPrefix     string
)

var nsysConvertCmd = &cobra.Command{
	Use:   "nsysconvert <input.nsys-rep>",
	Short: "Convert an Nsight Systems report to Chrome Trace Event Format",
	Long: `Convert an nsys-rep report into a Chrome Trace Event Format JSON file
viewable in Perfetto or chrome://tracing.

The conversion shells out to the external "nsys" CLI to produce an
intermediate SQLite export, then streams kernel, CUDA runtime, NVTX,
OS-runtime, scheduler, and composite activity into a single trace,
linking NVTX ranges to the GPU kernels their enclosed CUDA calls launched.

Examples:
  perfowl nsysconvert report.nsys-rep
  perfowl nsysconvert report.nsys-rep -o trace.json.gz -a kernel,nvtx-kernel
  perfowl nsysconvert report.nsys-rep --keep-sqlite`,
	Args: cobra.ExactArgs(1),
	RunE: runNsysConvert,
}

func init() {
	rootCmd.AddCommand(nsysConvertCmd)
	nsysConvertCmd.Flags().StringVarP(&nsysOutputPath, "output", "o", "", "Output file name (default: input name with .json extension)")
	nsysConvertCmd.Flags().StringVarP(&nsysOutputDir, "dir", "d", "", "Output directory (default: alongside input)")
	nsysConvertCmd.Flags().StringSliceVarP(&nsysActivityTypes, "activity", "a", nil, "Activity categories to emit (default: all available)")
	nsysConvertCmd.Flags().BoolVar(&nsysKeepSQLite, "keep-sqlite", false, "Keep the intermediate SQLite export instead of deleting it")
	nsysConvertCmd.Flags().BoolVar(&nsysNoMetadata, "no-metadata", false, "Omit process_name/thread_name metadata events")
	nsysConvertCmd.Flags().BoolVar(&nsysUseRustBackend, "rust-linker", false, "Use the Rust linker backend (not available in this build)")
	nsysConvertCmd.Flags().StringVar(&nsysNVTXPrefix, "nvtx-prefix", "", "Only keep unmapped NVTX events whose name starts with this prefix")
}

func runNsysConvert(cmd *cobra.Command, args []string) error {
	input := args[0]

	output := nsysOutputPath
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = base + ".json"
	}
	outputDir := nsysOutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	output = filepath.Join(outputDir, filepath.Base(output))

	opts := nsysconv.ConversionOptions{
		ActivityTypes:   nsysActivityTypes,
		IncludeMetadata: !nsysNoMetadata,
		NVTXEventPrefix: nsysNVTXPrefix,
	}

	if err := nsysconv.ConvertNsysReport(context.Background(), input, output, opts, nsysKeepSQLite, nsysUseRustBackend); err != nil {
		return fmt.Errorf("converting %s: %w", input, err)
	}

	fmt.Printf("Wrote %s\n", output)
	return nil
}
