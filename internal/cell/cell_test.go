package cell

import (
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/pvnav/internal/sim"
	"github.com/nvandessel/pvnav/internal/sim/cable"
	"github.com/nvandessel/pvnav/internal/sim/simtest"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"default", DefaultParams(), "default(1000.0, 30.0, 1.0, 60.0)"},
		{"pv", Params{500, 25.5, 0.5, 40}, "pv(500.0, 25.5, 0.5, 40.0)"},
		{"tiny", Params{1e-5, 1, 1, 1}, "tiny(1e-05, 1.0, 1.0, 1.0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalName(tt.name, tt.params); got != tt.want {
				t.Errorf("CanonicalName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseName(t *testing.T) {
	name, p, err := ParseName("test_pv(1000.0, 30.0, 1.0, 60.0)")
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if name != "test_pv" {
		t.Errorf("name = %q, want test_pv", name)
	}
	if p != DefaultParams() {
		t.Errorf("params = %+v, want %+v", p, DefaultParams())
	}

	round, rp, err := ParseName(CanonicalName("x", Params{1, 2, 3, 4}))
	if err != nil || round != "x" || rp != (Params{1, 2, 3, 4}) {
		t.Errorf("round trip = %q %+v %v", round, rp, err)
	}

	for _, bad := range []string{"default", "default(1.0, 2.0)", "default(a, b, c, d)", "default(1.0, 2.0, 3.0, 4.0"} {
		if _, _, err := ParseName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParseName(%q) error = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestRegistry_Memoization(t *testing.T) {
	eng := simtest.New(nil)
	r := NewRegistry(eng, nil)

	a, err := r.Get("default", DefaultParams())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	same, err := r.Get("default", DefaultParams())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != same {
		t.Error("identical name and params should return the same instance")
	}

	diffName, _ := r.Get("test_pv_dif", DefaultParams())
	if diffName == a {
		t.Error("different name should return a different instance")
	}
	p := DefaultParams()
	p.AISL = 30
	diffParams, _ := r.Get("default", p)
	if diffParams == a {
		t.Error("different params should return a different instance")
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
	if a.Name() != "default(1000.0, 30.0, 1.0, 60.0)" {
		t.Errorf("Name = %q", a.Name())
	}
	if a.EngineName() != "pv[0]" {
		t.Errorf("EngineName = %q, want pv[0]", a.EngineName())
	}
}

func TestRegistry_LoadsTemplatesOnce(t *testing.T) {
	eng := simtest.New(nil)
	eng.RequireLoad = true
	r := NewRegistry(eng, nil)

	if _, err := r.Default(); err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, err := r.Get("other", DefaultParams()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if eng.LoadCalls() != 1 {
		t.Errorf("LoadCalls = %d, want 1", eng.LoadCalls())
	}
}

func TestRegistry_OrigVariant(t *testing.T) {
	r := NewRegistry(simtest.New(nil), nil)
	c, err := r.Get("pv_orig", DefaultParams())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Variant() != sim.VariantOriginal {
		t.Errorf("Variant = %v, want original", c.Variant())
	}
	if sim.HasNodeSites(c) {
		t.Error("orig cell should not have node sites")
	}
}

func TestRegistry_PropagatesConstructionError(t *testing.T) {
	r := NewRegistry(cable.New(cable.DefaultParams(), nil), nil)
	p := DefaultParams()
	p.AISL = -1
	if _, err := r.Get("default", p); err == nil {
		t.Fatal("expected construction error")
	}
	if r.Len() != 0 {
		t.Errorf("failed construction should not be memoized, Len = %d", r.Len())
	}
}

func newCableCell(t *testing.T) *Cell {
	t.Helper()
	r := NewRegistry(cable.New(cable.DefaultParams(), nil), nil)
	p := DefaultParams()
	p.TargetMyelinatedL = 90
	c, err := r.Get("default", p)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return c
}

func get(t *testing.T, sec sim.Section, param string) float64 {
	t.Helper()
	v, err := sec.At(0.5).Get(param)
	if err != nil {
		t.Fatalf("Get %s on %s: %v", param, sec.Name(), err)
	}
	return v
}

func TestApplyPreset(t *testing.T) {
	c := newCableCell(t)

	base, err := ApplyPreset(c, PresetDefault)
	if err != nil {
		t.Fatalf("ApplyPreset default: %v", err)
	}
	for _, g := range []sim.Group{sim.Somatic, sim.AIS, sim.Nodes} {
		if _, ok := base[g]; !ok {
			t.Errorf("default baseline missing %s", g)
		}
	}

	base, err = ApplyPreset(c, PresetAlt1)
	if err != nil {
		t.Fatalf("ApplyPreset alt1: %v", err)
	}
	if base[sim.AIS] != 1.0 {
		t.Errorf("alt1 AIS Nav1.1 = %g, want 1", base[sim.AIS])
	}
	wantNodes := 3.0 / 2.2
	if math.Abs(base[sim.Nodes]-wantNodes) > 1e-12 {
		t.Errorf("alt1 node Nav1.1 = %g, want %g", base[sim.Nodes], wantNodes)
	}
	if got := get(t, sim.First(c, sim.Nodes), ParamKv3); math.Abs(got-wantNodes/3) > 1e-12 {
		t.Errorf("alt1 node Kv3 = %g, want %g", got, wantNodes/3)
	}
	if base[sim.Somatic] != 0.11504623309972959 {
		t.Errorf("alt1 somatic Nav1.1 = %g", base[sim.Somatic])
	}

	if _, err := ApplyPreset(c, Preset("bogus")); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("unknown preset error = %v, want ErrUnknownPreset", err)
	}
}

func TestParsePreset(t *testing.T) {
	if p, err := ParsePreset(" ALT2 "); err != nil || p != PresetAlt2 {
		t.Errorf("ParsePreset(ALT2) = %q, %v", p, err)
	}
	if _, err := ParsePreset("nope"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("ParsePreset(nope) error = %v", err)
	}
}

func TestMutate(t *testing.T) {
	c := newCableCell(t)
	soma := sim.First(c, sim.Soma)
	before := get(t, soma, ParamNav11)

	if err := Mutate(c, 0.25); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got := get(t, soma, ParamNav11); math.Abs(got-0.75*before) > 1e-12 {
		t.Errorf("Nav11 after Mutate = %g, want %g", got, 0.75*before)
	}
	if got := get(t, soma, ParamNav11m); math.Abs(got-0.25*before) > 1e-12 {
		t.Errorf("Nav11m after Mutate = %g, want %g", got, 0.25*before)
	}
	if got := get(t, soma, ParamMh); got != MutMh {
		t.Errorf("mh = %g, want %g", got, MutMh)
	}
}

func TestSetRelativeNav(t *testing.T) {
	c := newCableCell(t)

	if err := SetRelativeNav(c, 0.5, sim.Axonal, 2); err != nil {
		t.Fatalf("SetRelativeNav: %v", err)
	}
	for _, g := range []sim.Group{sim.AIS, sim.Nodes} {
		if got := get(t, sim.First(c, g), ParamNav11); got != 1 {
			t.Errorf("%s Nav1.1 = %g, want 1", g, got)
		}
	}

	ais := get(t, sim.Last(c, sim.Axon), ParamNav11)
	if err := SetRelativeNavFrom(c, 0.1, sim.Nodes, sim.Axon); err != nil {
		t.Fatalf("SetRelativeNavFrom: %v", err)
	}
	if got := get(t, sim.First(c, sim.Nodes), ParamNav11); math.Abs(got-0.1*ais) > 1e-12 {
		t.Errorf("node Nav1.1 = %g, want %g", got, 0.1*ais)
	}

	if err := SetRelativeNavFrom(c, 0.1, sim.Axon, sim.Axon); !errors.Is(err, ErrSameGroup) {
		t.Errorf("same group error = %v, want ErrSameGroup", err)
	}
}

func TestSetProperty(t *testing.T) {
	c := newCableCell(t)

	if err := SetProperty(c, ParamNaTs2, 0.2, sim.All, false); !errors.Is(err, sim.ErrUnknownParam) {
		t.Errorf("SetProperty without ignore error = %v, want ErrUnknownParam", err)
	}
	if err := SetProperty(c, ParamNaTs2, 0.2, sim.All, true); err != nil {
		t.Fatalf("SetProperty with ignore: %v", err)
	}
	if got := get(t, sim.First(c, sim.Soma), ParamNaTs2); got != 0.2 {
		t.Errorf("soma NaTs2 = %g, want 0.2", got)
	}
}
