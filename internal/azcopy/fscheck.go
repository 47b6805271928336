package azcopy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckWorkDir returns an error when dir sits on a network filesystem.
// azcopy memory-maps its job plan files there, which is unreliable over
// NFS/SMB, and `jobs show` then fails to find running jobs.
func CheckWorkDir(dir string) error {
	return checkWorkDirWithDetector(dir, detectFilesystemType)
}

func checkWorkDirWithDetector(dir string, detector func(string) (string, error)) error {
	if dir == "" {
		return fmt.Errorf("azcopy work dir is empty")
	}

	inspectPath, err := nearestExistingPath(dir)
	if err != nil {
		return fmt.Errorf("resolve work dir %q: %w", dir, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"azcopy work dir %q is on network filesystem %q; job plan files need a local disk. Set azcopy.work_dir (or AZCOPY_WORK_DIR) to a local path",
			dir,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
