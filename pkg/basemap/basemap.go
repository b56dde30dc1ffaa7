// Package basemap is the fixed tile-provider table the map shell picks
// its base layer from. The set and the attribution strings are part of
// the portal's contract with the tile hosts, so they live in one place
// instead of being scattered through templates.
package basemap

// Provider describes one selectable base layer: a Leaflet-style tile
// URL template and the attribution the host requires.
type Provider struct {
	Name        string `json:"name"`
	Tiles       string `json:"tiles"`
	Attribution string `json:"attribution"`
}

// providers is ordered; the first entry is the default layer.
// Stamen Terrain kept its historical key after the tiles moved to
// Stadia hosting, so existing layer selections keep working.
var providers = []Provider{
	{
		Name:        "OpenStreetMap",
		Tiles:       "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
	},
	{
		Name:        "CartoDB Positron",
		Tiles:       "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
		Attribution: "© OpenStreetMap contributors © CartoDB",
	},
	{
		Name:        "Stamen Terrain",
		Tiles:       "https://tiles.stadiamaps.com/tiles/stamen_terrain/{z}/{x}/{y}{r}.png",
		Attribution: "Map tiles by Stamen Design, under CC BY 3.0. Data © OpenStreetMap contributors",
	},
}

// Providers returns the table in its fixed order.
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// Lookup resolves a provider by name; unknown names fall back to the
// default layer so a stale selection never breaks the map.
func Lookup(name string) Provider {
	for _, p := range providers {
		if p.Name == name {
			return p
		}
	}
	return providers[0]
}

// Default is the provider used when the caller expresses no choice.
func Default() Provider { return providers[0] }
