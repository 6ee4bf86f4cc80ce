package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional per-cache manifest, read from the cache dir.
const ManifestFile = "manifest.yaml"

// Manifest pins artifact sources and checksums.
//
//	artifacts:
//	  accessibility:
//	    url: https://example.org/models/accessibility-v3.joblib.json
//	    sha256: 9f86d081884c7d65...
type Manifest struct {
	Artifacts map[string]ManifestEntry `yaml:"artifacts"`
}

// ManifestEntry overrides where one artifact comes from and what it hashes to.
type ManifestEntry struct {
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256"`
}

// LoadManifest reads the manifest from dir. A missing file yields an empty
// manifest.
func LoadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, eris.Wrap(err, "cache: read manifest")
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, eris.Wrap(err, "cache: parse manifest")
	}
	for name, entry := range m.Artifacts {
		entry.SHA256 = strings.ToLower(strings.TrimSpace(entry.SHA256))
		m.Artifacts[name] = entry
	}
	return m, nil
}

func (m Manifest) entry(name string) ManifestEntry {
	if m.Artifacts == nil {
		return ManifestEntry{}
	}
	return m.Artifacts[name]
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "cache: open for checksum")
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrap(err, "cache: hash file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
