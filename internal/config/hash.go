package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFileName is the integrity manifest written by `config lock`.
const ChecksumFileName = ".checksums"

const lockVersion = 2

// ErrConfigModified is returned when the config no longer matches its lock.
var ErrConfigModified = errors.New("config changed since it was locked")

// Lock pins one config file to its BLAKE3 hash. It is stored as YAML in
// ChecksumFileName beside the file.
type Lock struct {
	Version  int    `yaml:"version"`
	LockedAt string `yaml:"locked_at"`
	File     string `yaml:"file"`
	BLAKE3   string `yaml:"blake3"`
}

// LockResult describes one `config lock` run.
type LockResult struct {
	ConfigPath   string
	ChecksumPath string
	Hash         string
	Written      bool
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func lockPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ChecksumFileName)
}

// LockConfig hashes the config file and, unless dryRun, writes the manifest
// next to it.
func LockConfig(configPath string, dryRun bool) (*LockResult, error) {
	hash, err := hashFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", configPath, err)
	}

	res := &LockResult{
		ConfigPath:   configPath,
		ChecksumPath: lockPath(configPath),
		Hash:         hash,
	}
	if dryRun {
		return res, nil
	}

	data, err := yaml.Marshal(Lock{
		Version:  lockVersion,
		LockedAt: time.Now().UTC().Format(time.RFC3339),
		File:     filepath.Base(configPath),
		BLAKE3:   hash,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.WriteFile(res.ChecksumPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write %s: %w", res.ChecksumPath, err)
	}
	res.Written = true
	return res, nil
}

// ReadLock reads the manifest in dir. A missing manifest yields an error
// matching os.ErrNotExist.
func ReadLock(dir string) (*Lock, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFileName))
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ChecksumFileName, err)
	}
	if lock.Version != lockVersion {
		return nil, fmt.Errorf("unsupported %s version %d (run 'tailforward config lock')", ChecksumFileName, lock.Version)
	}
	return &lock, nil
}

// VerifyLock checks configPath against the manifest beside it. An unlocked
// config passes; `config check` warns about it instead.
func VerifyLock(configPath string) error {
	lock, err := ReadLock(filepath.Dir(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(configPath)
	if lock.File != name {
		return fmt.Errorf("%s locks %s, not %s (run 'tailforward config lock')", ChecksumFileName, lock.File, name)
	}

	hash, err := hashFile(configPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", configPath, err)
	}
	if hash != lock.BLAKE3 {
		return fmt.Errorf("%s: %w\nIf you edited it intentionally, run: tailforward config lock", name, ErrConfigModified)
	}
	return nil
}
