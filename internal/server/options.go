package server

import "os"

// Options configures server creation.
type Options struct {
	// StorageDir is where the daemon keeps its temporary workspace. Empty
	// means the system temp directory.
	StorageDir string
	// CachePath is the SQLite database used to cache decoded flights.
	// Empty disables caching and every request decodes from scratch.
	CachePath string
}

func (o Options) withDefaults() Options {
	if o.StorageDir == "" {
		o.StorageDir = os.TempDir()
	}
	return o
}
