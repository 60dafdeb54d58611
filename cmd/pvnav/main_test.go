package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/pvnav/internal/cache"
	"github.com/nvandessel/pvnav/internal/config"
	"github.com/nvandessel/pvnav/internal/sim"
	"github.com/nvandessel/pvnav/internal/sim/simtest"
)

// spiking fires every 10 ms from 15 ms on; the last node stops following
// after 30 ms.
func spiking(t float64, section string, x float64) float64 {
	if section == "node[1]" && t >= 30 {
		return -65
	}
	if t >= 10 && math.Mod(t, 10) >= 5 && math.Mod(t, 10) < 6 {
		return 20
	}
	return -65
}

// isolate runs the test in a fresh working directory with the scripted
// engine and returns the cache root.
func isolate(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, key := range []string{"PVNAV_CACHE_ROOT", "PVNAV_CACHE_LEDGER", "PVNAV_CELL_PRESET", "PVNAV_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	old := newEngine
	newEngine = func(*config.Config, *slog.Logger) sim.Engine { return simtest.New(spiking) }
	t.Cleanup(func() { newEngine = old })

	return filepath.Join(t.TempDir(), "cache")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	return m
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	want := []string{"version", "trace", "rates", "sweep", "failures", "cache", "config"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	for _, flag := range []string{"json", "config", "cache-root", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag %q", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if got := decode(t, out)["version"]; got != version {
		t.Errorf("version = %v, want %s", got, version)
	}
}

func TestFailuresCmd(t *testing.T) {
	isolate(t)

	out, err := run(t, "failures", "--times", "5,12", "--ref", "6,20", "--tol", "2", "--json")
	if err != nil {
		t.Fatal(err)
	}
	failures := decode(t, out)["failures"].([]any)
	if len(failures) != 1 || failures[0] != 12.0 {
		t.Errorf("failures = %v, want [12]", failures)
	}

	out, err = run(t, "failures", "--times", "3,4,5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Failures: [3 4 5]") || !strings.Contains(out, "Failed: 3 of 3") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTraceCmd(t *testing.T) {
	root := isolate(t)
	csvPath := filepath.Join(t.TempDir(), "shape.csv")
	args := []string{"trace", "--cache-root", root, "--amp", "0.5", "--dur", "30", "--shape", "--json"}

	out, err := run(t, append(args, "--csv", csvPath)...)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	first := decode(t, out)
	if first["cache_hit"] != false {
		t.Errorf("first trace cache_hit = %v", first["cache_hit"])
	}
	counts := first["ap_counts"].(map[string]any)
	if counts["soma"] != 4.0 || counts["comm"] != 2.0 {
		t.Errorf("ap_counts = %v", counts)
	}
	if props := counts["props"].([]any); len(props) != 2 {
		t.Errorf("props = %v, want two nodes", props)
	}
	if times := first["soma_times"].([]any); len(times) != 4 {
		t.Errorf("soma_times = %v", times)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil || !strings.HasPrefix(string(data), "Time (ms),") {
		t.Errorf("csv output = %.40q, %v", data, err)
	}

	out, err = run(t, args...)
	if err != nil {
		t.Fatalf("second trace: %v", err)
	}
	if second := decode(t, out); second["cache_hit"] != true {
		t.Errorf("second trace cache_hit = %v", second["cache_hit"])
	}
}

func TestTraceCmd_TestNameNotCached(t *testing.T) {
	root := isolate(t)

	out, err := run(t, "trace", "--cache-root", root, "--dur", "20", "--name", "smoke_test")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(computed)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	entries, err := cache.List(root)
	if err != nil || len(entries) != 0 {
		t.Errorf("cache holds %d entries (%v), want none", len(entries), err)
	}
}

func TestTraceCmd_CSVNeedsShape(t *testing.T) {
	isolate(t)
	if _, err := run(t, "trace", "--csv", "x.csv"); err == nil {
		t.Error("expected error for --csv without --shape")
	}
}

func TestRatesCmd(t *testing.T) {
	root := isolate(t)

	out, err := run(t, "rates", "--cache-root", root, "--amps", "0.1,0.5", "--dur", "30", "--sites", "soma,comm", "--json")
	if err != nil {
		t.Fatal(err)
	}
	rates := decode(t, out)["rates"].(map[string]any)
	soma := rates["soma"].([]any)
	if len(soma) != 2 || soma[0] != 4*1000.0/30 {
		t.Errorf("soma rates = %v", soma)
	}
}

func TestSweepCmd(t *testing.T) {
	root := isolate(t)

	out, err := run(t, "sweep", "--cache-root", root, "--fracs", "1,0.5", "--locs", "ais,ais+nodes",
		"--amps", "0.5", "--dur", "30", "--json")
	if err != nil {
		t.Fatal(err)
	}
	points := decode(t, out)["points"].([]any)
	if len(points) != 4 {
		t.Fatalf("got %d points, want 4", len(points))
	}
	p := points[3].(map[string]any)
	if p["loc"] != "AIS+Nodes" || p["perc_decrease"] != 50.0 || p["max_distance"] != 111.5 {
		t.Errorf("last point = %v", p)
	}

	out, err = run(t, "sweep", "--cache-root", root, "--fracs", "1,0.5", "--locs", "ais,ais+nodes",
		"--amps", "0.5", "--dur", "30")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, " hit\n") != 4 {
		t.Errorf("expected four cache hits:\n%s", out)
	}
}

func TestSweepCmd_BadLocation(t *testing.T) {
	isolate(t)
	if _, err := run(t, "sweep", "--locs", "dendrite"); err == nil {
		t.Error("expected error for unknown location")
	}
}

func TestCacheCmds(t *testing.T) {
	root := isolate(t)
	for _, amp := range []string{"0.1", "0.2", "0.3"} {
		if _, err := run(t, "trace", "--cache-root", root, "--amp", amp, "--dur", "20"); err != nil {
			t.Fatalf("trace %s: %v", amp, err)
		}
	}
	if _, err := run(t, "trace", "--cache-root", root, "--amp", "0.1", "--dur", "20"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "cache", "list", "--cache-root", root, "--json")
	if err != nil {
		t.Fatal(err)
	}
	list := decode(t, out)
	if list["total_count"] != 3.0 {
		t.Fatalf("total_count = %v, want 3", list["total_count"])
	}
	hits := 0.0
	for _, e := range list["entries"].([]any) {
		hits += e.(map[string]any)["hits"].(float64)
	}
	if hits != 1 {
		t.Errorf("total hits = %g, want 1", hits)
	}

	out, err = run(t, "cache", "verify", "--cache-root", root)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 verified, 0 failed") {
		t.Errorf("unexpected verify output:\n%s", out)
	}

	if _, err := run(t, "cache", "prune", "--cache-root", root); err == nil {
		t.Error("prune without limits should fail")
	}
	out, err = run(t, "cache", "prune", "--cache-root", root, "--keep", "2", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["count"] != 1.0 {
		t.Errorf("prune output = %s", out)
	}

	out, err = run(t, "cache", "clear", "--cache-root", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Removed 2 trials") {
		t.Errorf("unexpected clear output: %s", out)
	}
}

func TestCacheVerify_Corrupt(t *testing.T) {
	root := isolate(t)
	bad := filepath.Join(root, "bad.trace")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("not a trace\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "cache", "verify", bad)
	if err == nil {
		t.Error("verify of corrupt file succeeded")
	}
	if !strings.Contains(out, "FAILED") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestBuildRetentionPolicy(t *testing.T) {
	tests := []struct {
		name    string
		keep    int
		maxAge  string
		maxSize string
		want    string
		wantErr bool
	}{
		{"none", 0, "", "", "", true},
		{"count", 5, "", "", "*cache.CountPolicy", false},
		{"age", 0, "30d", "", "*cache.AgePolicy", false},
		{"size", 0, "", "500MB", "*cache.SizePolicy", false},
		{"composite", 5, "2w", "", "*cache.CompositePolicy", false},
		{"bad age", 0, "soon", "", "", true},
		{"bad size", 0, "", "lots", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := buildRetentionPolicy(tt.keep, false, tt.maxAge, tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if got := typeName(p); got != tt.want {
					t.Errorf("policy type = %s, want %s", got, tt.want)
				}
			}
		})
	}

	p, _ := buildRetentionPolicy(0, false, "", "1KB")
	if sp := p.(*cache.SizePolicy); sp.MaxBytes != 1000 {
		t.Errorf("1KB = %d bytes, want 1000", sp.MaxBytes)
	}
	p, _ = buildRetentionPolicy(3, true, "", "")
	if cp := p.(*cache.CountPolicy); cp.MaxCount != 3 || !cp.PerCell {
		t.Errorf("per-cell count policy = %+v", cp)
	}
}

func typeName(p cache.RetentionPolicy) string {
	switch p.(type) {
	case *cache.CountPolicy:
		return "*cache.CountPolicy"
	case *cache.AgePolicy:
		return "*cache.AgePolicy"
	case *cache.SizePolicy:
		return "*cache.SizePolicy"
	case *cache.CompositePolicy:
		return "*cache.CompositePolicy"
	}
	return "unknown"
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	t.Setenv("PVNAV_CELL_PRESET", "alt1")

	out, err := run(t, "config", "show", "--log-level", "debug")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"cache:", "preset: alt1", "level: debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "config", "show", "--log-level", "loud"); err == nil {
		t.Error("invalid log level accepted")
	}
}
