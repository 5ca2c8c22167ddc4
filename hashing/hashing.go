// Package hashing implements the stable content hashes used to reconcile
// scanned files and runs across scans, plus the path model helpers for
// environment-variable expansion and directory validation.
//
// File hashes are computed over metadata only (name, size, timestamps) —
// deliberately cheap and sufficient to detect a meaningful change without
// reading file contents. Run hashes fold the sorted set of contained file
// hashes, so they are independent of discovery order.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FileHash returns the SHA-256 hex digest over the concatenation of
// filename, size and the two canonical timestamps. Pure and deterministic.
func FileHash(filename string, filesize int64, creationTime, modificationTime string) string {
	input := fmt.Sprintf("%s%d%s%s", filename, filesize, creationTime, modificationTime)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// RunHash returns the SHA-256 hex digest over run location, timestamps and
// the digest of the sorted concatenation of the contained file hashes. The
// result is invariant under permutations of fileHashes.
func RunHash(runLocation, creationTime, lastModificationTime string, fileHashes []string) string {
	sorted := make([]string, len(fileHashes))
	copy(sorted, fileHashes)
	sort.Strings(sorted)

	filesSum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	filesHash := hex.EncodeToString(filesSum[:])

	input := fmt.Sprintf("%s%s%s%s", runLocation, creationTime, lastModificationTime, filesHash)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

var envPlaceholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandPath substitutes {NAME} occurrences with the corresponding
// environment variable and returns the absolute form. Referencing an unset
// variable is an error.
func ExpandPath(raw string) (string, error) {
	var missing []string
	expanded := envPlaceholder.ReplaceAllStringFunc(raw, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved environment variables in path %q: %s",
			raw, strings.Join(missing, ", "))
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", expanded, err)
	}
	return abs, nil
}

// ValidateDirectory checks that path exists, is a directory, and is readable.
// Only client/CLI contexts enforce this; server contexts skip existence
// checks since paths may refer to remote mounts unknown to the caller.
func ValidateDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("the directory %q does not exist", path)
		}
		return fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%q is not readable: %w", path, err)
	}
	return f.Close()
}
