package hostcpu

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeStat writes a minimal /proc/stat with one "cpu" aggregate line, one
// per-CPU line, and a ctxt counter, mirroring the kernel's layout closely
// enough for parseCPULine/readProcStat to exercise their real field
// offsets.
func writeStat(t *testing.T, dir string, userTicks, idleTicks, ctxt uint64) {
	t.Helper()
	contents := "cpu  " + itoa(userTicks) + " 0 0 " + itoa(idleTicks) + " 0 0 0 0\n" +
		"cpu0 " + itoa(userTicks) + " 0 0 " + itoa(idleTicks) + " 0 0 0 0\n" +
		"ctxt " + itoa(ctxt) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}
}

func itoa(v uint64) string {
	// avoid pulling in strconv just for the test fixture builder
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestSampleComputesIdlePercentage(t *testing.T) {
	dir := t.TempDir()
	writeStat(t, dir, 100, 100, 1000)
	if err := os.WriteFile(filepath.Join(dir, "loadavg"), []byte("0.50 0.25 0.10 1/200 12345\n"), 0o644); err != nil {
		t.Fatalf("write loadavg: %v", err)
	}

	r := NewReader(dir)

	// Overwrite stat mid-sample to simulate the second /proc/stat reading
	// after the interval elapses: equal user/idle growth -> 50% idle.
	go func() {
		time.Sleep(5 * time.Millisecond)
		writeStat(t, dir, 200, 200, 2000)
	}()

	sample, err := r.Sample(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if sample.IdlePct < 40 || sample.IdlePct > 60 {
		t.Errorf("IdlePct = %.1f, want near 50", sample.IdlePct)
	}
	if sample.LoadAvg1 != 0.5 {
		t.Errorf("LoadAvg1 = %.2f, want 0.5", sample.LoadAvg1)
	}
}

func TestSampleRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	writeStat(t, dir, 10, 10, 100)

	r := NewReader(dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Sample(ctx, 50*time.Millisecond)
	if err == nil {
		t.Error("Sample() should return an error when ctx is already cancelled")
	}
}

func TestIdleCPUsFiltersByThreshold(t *testing.T) {
	dir := t.TempDir()
	writeStat(t, dir, 0, 0, 0)
	r := NewReader(dir)

	go func() {
		time.Sleep(5 * time.Millisecond)
		writeStat(t, dir, 100, 900, 0) // 90% idle on cpu0
	}()

	idle, err := r.IdleCPUs(context.Background(), 10*time.Millisecond, 50)
	if err != nil {
		t.Fatalf("IdleCPUs() error = %v", err)
	}
	found := false
	for _, c := range idle {
		if c == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("IdleCPUs() = %v, want to include cpu0 (90%% idle >= 50%% threshold)", idle)
	}
}

func TestReaderDefaultsToProc(t *testing.T) {
	r := NewReader("")
	if r.procRoot != "/proc" {
		t.Errorf("procRoot = %q, want /proc when empty string given", r.procRoot)
	}
}
