// Package pathutil holds file name helpers and the atomic file write used by
// drop folders.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var illegalChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// ReplaceIllegalChars swaps characters that are not allowed in file names on
// common filesystems for an underscore.
func ReplaceIllegalChars(name string) string {
	return illegalChars.ReplaceAllString(name, "_")
}

// WriteFileAtomic writes data to dir/name through a temporary file in the
// same directory and renames it into place, so a watcher never sees a
// partial file. The temporary file is removed on any failure.
func WriteFileAtomic(dir, name string, data []byte, perm os.FileMode) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("no directory configured for %s", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("move %s into place: %w", name, err)
	}
	committed = true
	return target, nil
}

// Transliterate reduces s to plain ASCII: compatibility decomposition with
// combining marks removed, then unidecode for every remaining script. Runes
// unidecode has no reading for are dropped.
func Transliterate(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), s)
	if err != nil {
		stripped = s
	}
	return unidecode.Unidecode(stripped)
}
