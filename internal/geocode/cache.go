package geocode

import (
	"fmt"

	"github.com/spf13/afero"
)

// writeLocalCache durably persists a freshly decrypted index payload,
// via a temp-file-then-rename swap so a crash mid-write never corrupts the
// previous good copy — spec.md §6's "decrypted form is temporary and
// atomically replaces the prior live file on success."
func writeLocalCache(fs afero.Fs, path string, plaintext []byte) error {
	if path == "" {
		return nil
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, plaintext, 0o644); err != nil {
		return fmt.Errorf("geocode: writing temp cache file: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("geocode: renaming temp cache file over live: %w", err)
	}
	return nil
}

// loadLocalCache reads back a previously persisted index so the Geocoder
// has something to serve immediately on startup, before the first
// successful remote refresh (spec.md §4.4's "startup load-or-fetch").
func loadLocalCache(fs afero.Fs, path string) (*Index, error) {
	if path == "" {
		return nil, nil
	}
	exists, err := afero.Exists(fs, path)
	if err != nil || !exists {
		return nil, err
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("geocode: reading local cache: %w", err)
	}
	return decodeIndex(data)
}
