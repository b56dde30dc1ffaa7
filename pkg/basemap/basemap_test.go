package basemap

import "testing"

// TestTable pins the provider set: renderers key into it by name, so
// removals or renames are breaking changes.
func TestTable(t *testing.T) {
	want := []string{"OpenStreetMap", "CartoDB Positron", "Stamen Terrain"}
	got := Providers()
	if len(got) != len(want) {
		t.Fatalf("providers = %d, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("provider %d = %q, want %q", i, got[i].Name, name)
		}
		if got[i].Tiles == "" || got[i].Attribution == "" {
			t.Errorf("provider %q missing tiles or attribution", name)
		}
	}
}

// TestLookupFallback verifies unknown names resolve to the default
// layer instead of failing the page render.
func TestLookupFallback(t *testing.T) {
	if p := Lookup("CartoDB Positron"); p.Name != "CartoDB Positron" {
		t.Errorf("Lookup known = %q", p.Name)
	}
	if p := Lookup("No Such Layer"); p.Name != Default().Name {
		t.Errorf("Lookup unknown = %q, want default %q", p.Name, Default().Name)
	}
}
