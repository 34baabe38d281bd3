// Package geofix defines the GeoFix value type shared by every GeoTracker
// component: the cache, the cluster router, the archiver, and the query
// engine all pass this struct around by value or pointer, never by
// component-specific projections.
package geofix

import (
	"fmt"
	"time"
)

// Technology identifies how a fix's position was obtained.
type Technology int

// Recognised technologies. Unknown is the zero value so a fix with no
// technology set reports sensibly.
const (
	TechnologyUnknown Technology = iota
	TechnologyGPS
	TechnologyCell
	TechnologyWiFi
	TechnologyIP
	TechnologyManual
)

func (t Technology) String() string {
	switch t {
	case TechnologyGPS:
		return "gps"
	case TechnologyCell:
		return "cell"
	case TechnologyWiFi:
		return "wifi"
	case TechnologyIP:
		return "ip"
	case TechnologyManual:
		return "manual"
	default:
		return "unknown"
	}
}

// NetworkStatus identifies the network the submitting device was using.
type NetworkStatus int

// Recognised network statuses.
const (
	NetworkStatusUnknown NetworkStatus = iota
	NetworkStatusWiFi
	NetworkStatusCDMA
	NetworkStatusGSM
	NetworkStatusLTE
	NetworkStatusEthernet
)

func (n NetworkStatus) String() string {
	switch n {
	case NetworkStatusWiFi:
		return "wifi"
	case NetworkStatusCDMA:
		return "cdma"
	case NetworkStatusGSM:
		return "gsm"
	case NetworkStatusLTE:
		return "lte"
	case NetworkStatusEthernet:
		return "ethernet"
	default:
		return "unknown"
	}
}

// Fix is a single timestamped location observation (spec.md §3, "GeoFix").
type Fix struct {
	TimeUTC time.Time

	Latitude  float64
	Longitude float64

	// Optional fields. Pointers distinguish "not provided" from a real
	// zero value (e.g. Speed == 0).
	Altitude           *float64
	Course             *float64
	Speed              *float64
	HorizontalAccuracy *float64
	VerticalAccuracy   *float64

	Technology    Technology
	NetworkStatus NetworkStatus
}

// Validate enforces the latitude/longitude range invariant. It does not
// touch TimeUTC — clock clamping (I4) and retention (I3) are FixCache's
// responsibility since they require "now", which Fix itself doesn't know.
func (f Fix) Validate() error {
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90,90]", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180,180]", f.Longitude)
	}
	return nil
}

// Fields is a bitset selecting which optional fix fields a query should
// project into its response (spec.md §4.5, "fixFields").
type Fields uint32

// Recognised projection bits. Core is always included in a projected Fix.
const (
	FieldAltitude Fields = 1 << iota
	FieldCourse
	FieldSpeed
	FieldHorizontalAccuracy
	FieldVerticalAccuracy
	FieldTechnology
	FieldNetworkStatus

	FieldsAll Fields = FieldAltitude | FieldCourse | FieldSpeed |
		FieldHorizontalAccuracy | FieldVerticalAccuracy |
		FieldTechnology | FieldNetworkStatus
)

// Project returns a copy of f with only the fields selected by mask kept
// (TimeUTC, Latitude, and Longitude are always kept).
func (f Fix) Project(mask Fields) Fix {
	out := Fix{
		TimeUTC:   f.TimeUTC,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
	}
	if mask&FieldAltitude != 0 {
		out.Altitude = f.Altitude
	}
	if mask&FieldCourse != 0 {
		out.Course = f.Course
	}
	if mask&FieldSpeed != 0 {
		out.Speed = f.Speed
	}
	if mask&FieldHorizontalAccuracy != 0 {
		out.HorizontalAccuracy = f.HorizontalAccuracy
	}
	if mask&FieldVerticalAccuracy != 0 {
		out.VerticalAccuracy = f.VerticalAccuracy
	}
	if mask&FieldTechnology != 0 {
		out.Technology = f.Technology
	}
	if mask&FieldNetworkStatus != 0 {
		out.NetworkStatus = f.NetworkStatus
	}
	return out
}
