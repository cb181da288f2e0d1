package shellexec

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestResolveBinaryFindsToolInAllowedPath(t *testing.T) {
	dir := t.TempDir()
	toolPath := filepath.Join(dir, "dmesg")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}

	sc := &SecurityChecker{allowedPaths: []string{dir}}
	got, err := sc.ResolveBinary("dmesg")
	if err != nil {
		t.Fatalf("ResolveBinary() error = %v", err)
	}
	if got != toolPath {
		t.Errorf("ResolveBinary() = %q, want %q", got, toolPath)
	}
}

func TestResolveBinaryMissingReturnsError(t *testing.T) {
	sc := &SecurityChecker{allowedPaths: []string{t.TempDir()}}
	if _, err := sc.ResolveBinary("nonexistent-tool"); err == nil {
		t.Error("ResolveBinary() should error when the tool is in none of the allowed dirs")
	}
}

func TestVerifyBinaryRejectsDirectoryOutsideAllowlist(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	toolPath := filepath.Join(outside, "dmesg")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}

	sc := &SecurityChecker{allowedPaths: []string{dir}}
	if err := sc.VerifyBinary(toolPath); err == nil {
		t.Error("VerifyBinary() should reject a binary outside the allowlisted directories")
	}
}

func TestVerifyBinaryRejectsWorldWritable(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("permission bits assertion is linux-specific")
	}
	dir := t.TempDir()
	toolPath := filepath.Join(dir, "dmesg")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh\n"), 0o666); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	// WriteFile's mode is filtered by the umask; set the bits explicitly.
	if err := os.Chmod(toolPath, 0o666); err != nil {
		t.Fatalf("chmod fake tool: %v", err)
	}

	sc := &SecurityChecker{allowedPaths: []string{dir}}
	if err := sc.VerifyBinary(toolPath); err == nil {
		t.Error("VerifyBinary() should reject a world-writable binary")
	}
}

func TestSanitizeEnvKeepsOnlySafeVars(t *testing.T) {
	t.Setenv("PANDEMONIUM_TEST_SECRET", "leak-me-not")
	t.Setenv("LANG", "en_US.UTF-8")

	sc := NewSecurityChecker()
	env := sc.SanitizeEnv()

	hasLang := false
	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PANDEMONIUM_TEST_SECRET=") {
			t.Error("SanitizeEnv() must not pass through arbitrary environment variables")
		}
		if strings.HasPrefix(e, "LANG=") {
			hasLang = true
		}
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
	}
	if !hasLang {
		t.Error("SanitizeEnv() should preserve LANG")
	}
	if !hasPath {
		t.Error("SanitizeEnv() should always provide a PATH")
	}
}
