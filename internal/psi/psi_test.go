package psi

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCgroupFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const fakePressureLine = "some avg10=1.50 avg60=2.50 avg300=3.50 total=123456\n" +
	"full avg10=0.10 avg60=0.20 avg300=0.30 total=7890\n"

func TestReadDiscoversDockerDir(t *testing.T) {
	base := t.TempDir()
	cgroupDir := filepath.Join(base, "docker", "abc123")
	writeCgroupFile(t, cgroupDir, "cpu.pressure", fakePressureLine)
	writeCgroupFile(t, cgroupDir, "memory.pressure", fakePressureLine)
	writeCgroupFile(t, cgroupDir, "io.pressure", fakePressureLine)
	// Mark PSI support at the base (probeSupport checks base directly).
	writeCgroupFile(t, base, "cpu.pressure", fakePressureLine)

	r := NewReader(base)
	if !r.Supported() {
		t.Fatal("expected PSI support to be detected")
	}

	cpu, mem, io := r.Read("abc123")
	if cpu == nil || mem == nil || io == nil {
		t.Fatalf("expected all three dimensions populated, got cpu=%v mem=%v io=%v", cpu, mem, io)
	}
	if cpu.Some10 != 1.5 || cpu.Full300 != 0.3 {
		t.Errorf("cpu PSI = %+v, unexpected values", cpu)
	}
}

func TestReadUnsupportedShortCircuits(t *testing.T) {
	base := t.TempDir() // no pressure files anywhere
	r := NewReader(base)
	if r.Supported() {
		t.Fatal("expected PSI support to be false on an empty directory")
	}

	cpu, mem, io := r.Read("anything")
	if cpu != nil || mem != nil || io != nil {
		t.Errorf("expected all nil when unsupported, got cpu=%v mem=%v io=%v", cpu, mem, io)
	}
}

func TestReadMissingContainerCgroup(t *testing.T) {
	base := t.TempDir()
	writeCgroupFile(t, base, "cpu.pressure", fakePressureLine) // marks support

	r := NewReader(base)
	cpu, mem, io := r.Read("does-not-exist")
	if cpu != nil || mem != nil || io != nil {
		t.Errorf("expected nils when no cgroup dir is found, got cpu=%v mem=%v io=%v", cpu, mem, io)
	}
}

func TestReadPartialDimension(t *testing.T) {
	base := t.TempDir()
	cgroupDir := filepath.Join(base, "docker", "c1")
	writeCgroupFile(t, cgroupDir, "cpu.pressure", fakePressureLine)
	// memory.pressure and io.pressure deliberately absent.
	writeCgroupFile(t, base, "cpu.pressure", fakePressureLine)

	r := NewReader(base)
	cpu, mem, io := r.Read("c1")
	if cpu == nil {
		t.Error("expected cpu PSI to be populated")
	}
	if mem != nil || io != nil {
		t.Errorf("expected mem/io to be nil when their files are absent, got mem=%v io=%v", mem, io)
	}
}
