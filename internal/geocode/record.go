// Package geocode implements spec.md §4.4's IPGeocoder: a background-
// refreshed, atomically-swapped IPv4 range lookup table.
package geocode

// Record is one IP-geocode entry: an IPv4 range plus a lat/lon pair and
// optional coarse textual location that the core exposes but never
// interprets (spec.md §3's "IP-geocode record").
type Record struct {
	RangeStart uint32
	RangeEnd   uint32
	Latitude   float64
	Longitude  float64
	Country    string
	Region     string
	City       string
}

// Location is the textual portion of a Record, returned alongside a
// geofix.Fix from a successful lookup.
type Location struct {
	Country string
	Region  string
	City    string
}
