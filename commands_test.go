package main

import (
	"io"
	"strings"
	"testing"
)

func TestGeostrophicRejects2D(t *testing.T) {
	defer func() { group = "3d" }()
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"geostrophic", "--group", "2d", "--dir", t.TempDir()})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "geostrophic needs --group 3d") {
		t.Fatalf("err = %v, want a group error", err)
	}
}
