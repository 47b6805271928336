package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint identifies the loaded configuration in logs. It is the first
// 12 hex digits of the BLAKE3 hash of the source file, or "env" when the
// config came from the environment.
func (c *Config) Fingerprint() (string, error) {
	if c.SourceFile == "" {
		return "env", nil
	}
	sum, err := ComputeBlake3Hash(c.SourceFile)
	if err != nil {
		return "", err
	}
	return sum[:12], nil
}
