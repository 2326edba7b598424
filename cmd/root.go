package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "perfowl",
	Short: "PerfOwl - Optimization Workbench & Lab for NVIDIA Nsight Systems traces",
	Long: `PerfOwl (Optimization Workbench & Lab) - converts NVIDIA Nsight Systems
.nsys-rep captures into the Chrome Trace Event Format, so CUDA kernels, NVTX
ranges, and OS runtime activity can be inspected in chrome://tracing,
Perfetto, or any other Chrome-trace-aware viewer.

Features:
- CPU<->GPU correlation: NVTX ranges promoted into the kernels they launched
- PyTorch record_function annotations linked to the kernels they triggered
- Streaming conversion that never materializes the full trace in memory
- Device/stream-scoped process and thread naming in the emitted trace`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
