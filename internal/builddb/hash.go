package builddb

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// HashInputs hashes the content of every path in paths (sources plus
// every header the last compile discovered), sorted first so the result
// doesn't depend on caller order.
func HashInputs(paths []string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("builddb: hashing input %q: %w", p, err)
		}
		_, copyErr := io.Copy(h, f)
		f.Close()
		if copyErr != nil {
			return "", fmt.Errorf("builddb: hashing input %q: %w", p, copyErr)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashCommand hashes an argument vector, order-sensitive since argument
// order changes the invocation's meaning.
func HashCommand(cmd []string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, c := range cmd {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CacheBusterHash hashes the file layout under dir (the tweaks
// directory) with djb2 over the sorted, slash-normalized relative paths
// (spec.md §4.H): adding or removing a file there, which __has_include
// -like checks may observe, busts every compile cache regardless of
// file contents. A missing dir hashes the same as an empty one.
func CacheBusterHash(dir string) (string, error) {
	var rels []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("builddb: walking %q: %w", dir, err)
	}
	sort.Strings(rels)
	return fmt.Sprintf("%016x", djb2(rels)), nil
}

func djb2(paths []string) uint64 {
	var hash uint64 = 5381
	for _, p := range paths {
		for i := 0; i < len(p); i++ {
			hash = hash*33 + uint64(p[i])
		}
		hash = hash*33 + '\n'
	}
	return hash
}
