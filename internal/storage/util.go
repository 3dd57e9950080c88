package storage

import (
	"os"
	"strings"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// NormalizeIdentity folds a username or email into its index form.
func NormalizeIdentity(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
