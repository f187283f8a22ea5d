package job

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrNoMetadata is returned when the metadata file does not exist.
var ErrNoMetadata = errors.New("metadata file not found")

// LoadMetadata reads the whole metadata file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.WithHint(
			errors.Wrapf(ErrNoMetadata, "%s", path),
			"run `slurmjobs create` first to generate job scripts and metadata")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read metadata %s", path)
	}

	md := Metadata{}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(err, "decode metadata %s", path)
	}
	for key, r := range md {
		if r == nil {
			return nil, errors.Newf("metadata %s: empty record %q", path, key)
		}
		if r.JobName == "" {
			r.JobName = key
		}
		if r.Status == "" {
			r.Status = StatusNotSubmitted
			if r.Submitted() {
				r.Status = StatusSubmitted
			}
		}
	}
	return md, nil
}

// SaveMetadata rewrites the whole metadata file. The content goes to a
// temporary file in the same directory first, then replaces path.
func SaveMetadata(path string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "chmod %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace metadata %s", path)
	}
	return nil
}
