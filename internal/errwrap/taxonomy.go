package errwrap

import "errors"

// Sentinel errors for the taxonomy described in spec.md §7. Callers should
// use errors.Is against these after unwrapping a Wrapf chain.
var (
	// ErrValidation covers bad latitude/longitude, missing entityID, or an
	// unknown groupID passed where one is required. Surfaced synchronously;
	// no state change occurs.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when an entity or group query targets an
	// entity unknown on every queried node.
	ErrNotFound = errors.New("not found")

	// ErrUnreachable is returned by cluster.Router.Forward after a forwarded
	// submission exhausts its retry budget against a remote owner, and by
	// Router.Forward/QueryOwner when no owner can be resolved or reached.
	ErrUnreachable = errors.New("owner unreachable")

	// ErrNotAvailable is returned by IPGeocoder.Lookup once the geocoder has
	// entered its degraded state (corrupted data file, no index loaded).
	ErrNotAvailable = errors.New("geocoder not available")

	// ErrFatal marks an invariant violation or corrupted on-disk state. The
	// affected subsystem should log and enter a degraded state rather than
	// take the node down.
	ErrFatal = errors.New("fatal internal error")
)
