package profile

import (
	"sync"
	"testing"

	"github.com/kstaniek/go-cansim/internal/vehicle"
)

func TestLookupCachesOneInstance(t *testing.T) {
	r := NewRegistry()
	a, ok := r.Lookup(vehicle.VWT6)
	if !ok {
		t.Fatal("expected VWT6 profile")
	}
	b, _ := r.Lookup(vehicle.VWT6)
	if a != b {
		t.Fatal("second lookup returned a different instance")
	}
	// Sibling model years share a protocol but are cached per identifier.
	c, ok := r.Lookup(vehicle.VWT61)
	if !ok || c == a {
		t.Fatalf("VWT61 lookup = %p ok=%v, want distinct instance", c, ok)
	}
}

func TestLookupUnsupported(t *testing.T) {
	r := NewRegistry()
	for _, id := range []vehicle.ID{vehicle.MBSprinter, vehicle.MBViano, vehicle.JeepRenegade} {
		if p, ok := r.Lookup(id); ok || p != nil {
			t.Fatalf("%s: expected no profile", id)
		}
		if r.Supported(id) {
			t.Fatalf("%s: Supported() = true", id)
		}
	}
}

func TestSupportedVehicles(t *testing.T) {
	r := NewRegistry()
	want := []vehicle.ID{vehicle.VWT5, vehicle.VWT6, vehicle.VWT61, vehicle.VWT7}
	got := r.SupportedVehicles()
	if len(got) != len(want) {
		t.Fatalf("SupportedVehicles() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SupportedVehicles()[%d] = %v, want %v", i, got[i], want[i])
		}
		if !vehicle.Known(got[i]) {
			t.Fatalf("%v supported but not in label table", got[i])
		}
	}
}

func TestConcurrentLookupSingleInstance(t *testing.T) {
	r := NewRegistry()
	const n = 32
	out := make([]*Profile, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i], _ = r.Lookup(vehicle.VWT7)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if out[i] != out[0] {
			t.Fatal("concurrent lookups produced distinct instances")
		}
	}
}
