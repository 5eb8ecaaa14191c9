// Package jsondoc stores JSON documents as files with atomic replacement.
package jsondoc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const filePermissions = 0o644

// Read decodes the document at path into v. A missing file yields an error
// matching os.ErrNotExist.
func Read(path string, v any) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrapf(err, "decode %s", filepath.Base(path))
	}

	return nil
}

// Write replaces the document at path via a temp file and rename, so readers
// see either the old or the new document.
func Write(path string, v any) error {
	tmp, err := writeTemp(path, v)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "persist %s", filepath.Base(path))
	}

	return nil
}

// WriteExclusive creates the document at path only if it does not exist yet.
// The check and the creation are one filesystem operation, so concurrent
// writers (also from other processes) get exactly one winner; losers receive
// an error matching os.ErrExist.
func WriteExclusive(path string, v any) error {
	tmp, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		return errors.Wrapf(err, "create %s", filepath.Base(path))
	}

	return nil
}

func writeTemp(path string, v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encode %s", filepath.Base(path))
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "write temp file")
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "sync temp file")
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "close temp file")
	}

	return tmp, nil
}
