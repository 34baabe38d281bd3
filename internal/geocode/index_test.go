package geocode

import (
	"testing"
	"time"
)

func fixtureRecords() []Record {
	return []Record{
		{RangeStart: 0x08080000, RangeEnd: 0x0808FFFF, Latitude: 37.4, Longitude: -122.1, Country: "US", Region: "CA", City: "Mountain View"},
		{RangeStart: 0xCB007100, RangeEnd: 0xCB0071FF, Latitude: 51.5, Longitude: -0.1, Country: "GB", Region: "", City: "London"},
	}
}

func TestIndexEncodeDecodeRoundTrip(t *testing.T) {
	lastModified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := encodeIndex(fixtureRecords(), lastModified)
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}
	idx, err := decodeIndex(data)
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}
	if !idx.LastModified.Equal(lastModified) {
		t.Fatalf("LastModified = %v, want %v", idx.LastModified, lastModified)
	}
	if len(idx.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(idx.records))
	}
}

func TestIndexLookupBoundaries(t *testing.T) {
	data, _ := encodeIndex(fixtureRecords(), time.Now())
	idx, err := decodeIndex(data)
	if err != nil {
		t.Fatal(err)
	}

	rec, ok := idx.Lookup(0x08080000)
	if !ok || rec.City != "Mountain View" {
		t.Fatalf("expected a hit at range start, got %+v ok=%v", rec, ok)
	}
	rec, ok = idx.Lookup(0x0808FFFF)
	if !ok || rec.City != "Mountain View" {
		t.Fatalf("expected a hit at range end, got %+v ok=%v", rec, ok)
	}
	if _, ok := idx.Lookup(0x08090000); ok {
		t.Fatal("expected a miss just past the range end")
	}
	if _, ok := idx.Lookup(0x00000001); ok {
		t.Fatal("expected a miss before any range")
	}

	rec, ok = idx.Lookup(0xCB007180)
	if !ok || rec.Country != "GB" {
		t.Fatalf("expected a hit in the second range, got %+v ok=%v", rec, ok)
	}
}

func TestIndexDecodeRejectsBadMagic(t *testing.T) {
	data, _ := encodeIndex(fixtureRecords(), time.Now())
	data[0] ^= 0xFF
	if _, err := decodeIndex(data); err == nil {
		t.Fatal("expected an error for corrupted magic")
	}
}
