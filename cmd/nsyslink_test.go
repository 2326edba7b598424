package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleLinkableTrace = `{"traceEvents":[
	{"name":"fwd","cat":"user_annotation","ph":"X","ts":100,"dur":400,"pid":1,"tid":1},
	{"name":"launch","cat":"cuda_runtime","ph":"X","ts":120,"dur":10,"pid":1,"tid":1,"args":{"correlationId":7}},
	{"name":"matmul_kernel","cat":"kernel","ph":"X","ts":150,"dur":30,"pid":0,"tid":0,"args":{"correlationId":7}}
]}`

func TestRunNsysLinkProducesGPUAnnotation(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "trace.json")
	if err := os.WriteFile(inputPath, []byte(sampleLinkableTrace), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	outputPath := filepath.Join(dir, "linked.json")
	originalOutput, originalVerbose := nsysLinkOutputPath, nsysLinkVerbose
	defer func() { nsysLinkOutputPath, nsysLinkVerbose = originalOutput, originalVerbose }()
	nsysLinkOutputPath = outputPath
	nsysLinkVerbose = false

	if err := runNsysLink(nsysLinkCmd, []string{inputPath}); err != nil {
		t.Fatalf("runNsysLink: %v", err)
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(out), "gpu_user_annotation") || !strings.Contains(string(out), "fwd") {
		t.Errorf("expected linked output to contain a gpu_user_annotation named fwd, got: %s", out)
	}
}

func TestRunNsysLinkMissingInput(t *testing.T) {
	originalOutput := nsysLinkOutputPath
	defer func() { nsysLinkOutputPath = originalOutput }()
	nsysLinkOutputPath = ""

	err := runNsysLink(nsysLinkCmd, []string{"/nonexistent/trace.json"})
	if err == nil {
		t.Fatal("expected an error for a missing input file")
	}
}
