package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/hilite/internal/lexer"
	"github.com/mattjoyce/hilite/internal/worker"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CacheFingerprint identifies the worker installation described by cmd for
// the lexer cache. It covers the command line, the library path and the
// contents of the executable and entry script, so upgrading any of them
// invalidates cached lexer lists.
func (c *Config) CacheFingerprint(cmd worker.Command) (string, error) {
	parts := append([]string{}, cmd.Argv()...)
	parts = append(parts, c.Worker.LibraryPath)

	files := []string{cmd.Path}
	if c.Worker.Script != "" && len(c.Worker.Command) == 0 {
		files = append(files, c.Worker.Script)
	}
	for _, f := range files {
		sum, err := ComputeBlake3Hash(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, sum)
	}
	return lexer.Fingerprint(parts...), nil
}
