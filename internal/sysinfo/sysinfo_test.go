package sysinfo

import (
	"runtime"
	"testing"
	"time"
)

func TestSnapshot(t *testing.T) {
	p := NewProvider("box-1")
	info := p.Snapshot()

	if info.Name != "box-1" {
		t.Fatalf("name = %q", info.Name)
	}
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Fatalf("platform = %s/%s", info.OS, info.Arch)
	}
	if info.NumCPU < 1 {
		t.Fatalf("numcpu = %d", info.NumCPU)
	}
	if info.Status != "healthy" {
		t.Fatalf("status = %q", info.Status)
	}
	if time.Since(info.LastHealthCheck) > time.Minute {
		t.Fatalf("stale health check: %v", info.LastHealthCheck)
	}
}

func TestSnapshotFallsBackToHostname(t *testing.T) {
	p := NewProvider("")
	if p.Snapshot().Name == "" {
		t.Fatal("name empty with no override")
	}
}

func TestUptimeParses(t *testing.T) {
	p := NewProvider("box-1")
	if _, err := time.ParseDuration(p.Snapshot().Uptime); err != nil {
		t.Fatalf("uptime not a duration: %v", err)
	}
}
