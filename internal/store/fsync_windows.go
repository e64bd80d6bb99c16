//go:build windows

package store

// Directory handles cannot be fsynced on Windows; NTFS journals the rename.
func fsyncDir(string) error { return nil }
