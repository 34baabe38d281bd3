package geofix

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		fix     Fix
		wantErr bool
	}{
		{"ok", Fix{Latitude: 10, Longitude: 20}, false},
		{"lat too high", Fix{Latitude: 90.1, Longitude: 0}, true},
		{"lat too low", Fix{Latitude: -90.1, Longitude: 0}, true},
		{"lon too high", Fix{Latitude: 0, Longitude: 180.1}, true},
		{"lon too low", Fix{Latitude: 0, Longitude: -180.1}, true},
		{"boundary ok", Fix{Latitude: 90, Longitude: -180}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.fix.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestProject(t *testing.T) {
	speed := 12.5
	f := Fix{Latitude: 1, Longitude: 2, Speed: &speed, Technology: TechnologyGPS}

	projected := f.Project(FieldSpeed)
	if projected.Speed == nil || *projected.Speed != speed {
		t.Fatalf("expected speed to survive projection")
	}
	if projected.Technology != TechnologyUnknown {
		t.Fatalf("expected technology to be dropped by projection, got %v", projected.Technology)
	}
	if projected.Latitude != 1 || projected.Longitude != 2 {
		t.Fatalf("expected core fields to always survive projection")
	}
}
