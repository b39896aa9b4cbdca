// Package vault owns every on-disk blob: uploaded originals, audio
// recordings, and journalist note images. Callers never touch the
// filesystem directly. Blob references are stable, opaque, and derived from
// content hash plus kind, and all writes are atomic (temp file + rename).
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies a blob. The set is closed; Put rejects anything else.
type Kind string

// Blob kinds.
const (
	KindOriginal Kind = "original"
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
)

var validKinds = map[Kind]struct{}{
	KindOriginal: {},
	KindAudio:    {},
	KindImage:    {},
}

// ErrMissing is returned when a blob reference does not resolve to a file.
var ErrMissing = errors.New("vault: blob missing")

// Ref is an opaque blob reference of the form <project>/<kind>/<sha256hex>.
// The content hash makes refs stable: storing the same bytes twice yields
// the same ref.
type Ref string

// parts splits and validates a ref. Rejects anything that could escape the
// vault root.
func (r Ref) parts() (project, kind, hash string, err error) {
	segs := strings.Split(string(r), "/")
	if len(segs) != 3 {
		return "", "", "", fmt.Errorf("vault: malformed ref %q", r)
	}
	project, kind, hash = segs[0], segs[1], segs[2]
	if project == "" || project == "." || project == ".." || strings.ContainsAny(project, `\/`) {
		return "", "", "", fmt.Errorf("vault: invalid project in ref %q", r)
	}
	if _, ok := validKinds[Kind(kind)]; !ok {
		return "", "", "", fmt.Errorf("vault: invalid kind in ref %q", r)
	}
	if len(hash) != 64 {
		return "", "", "", fmt.Errorf("vault: invalid hash in ref %q", r)
	}
	if _, decErr := hex.DecodeString(hash); decErr != nil {
		return "", "", "", fmt.Errorf("vault: invalid hash in ref %q", r)
	}
	return project, kind, hash, nil
}

// Vault stores blobs under a root directory as
// <root>/<project>/<kind>/<sha256hex>.
type Vault struct {
	root string
}

// New creates the vault root directory if needed and returns a Vault.
func New(root string) (*Vault, error) {
	if root == "" {
		return nil, errors.New("vault: empty root")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("vault: creating root: %w", err)
	}
	return &Vault{root: root}, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

func (v *Vault) pathFor(r Ref) (string, error) {
	project, kind, hash, err := r.parts()
	if err != nil {
		return "", err
	}
	return filepath.Join(v.root, project, kind, hash), nil
}

// Put writes data for the given project and kind and returns the blob ref.
// The write is atomic: content goes to a temp file in the target directory
// and is renamed into place. Re-putting identical bytes is a no-op returning
// the same ref.
func (v *Vault) Put(projectID string, kind Kind, data []byte) (Ref, error) {
	if _, ok := validKinds[kind]; !ok {
		return "", fmt.Errorf("vault: unknown kind %q", kind)
	}
	sum := sha256.Sum256(data)
	ref := Ref(fmt.Sprintf("%s/%s/%s", projectID, kind, hex.EncodeToString(sum[:])))

	path, err := v.pathFor(ref)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("vault: creating blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("vault: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: closing blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: renaming blob: %w", err)
	}
	return ref, nil
}

// Get returns the blob bytes, or ErrMissing if the ref does not resolve.
func (v *Vault) Get(ref Ref) ([]byte, error) {
	path, err := v.pathFor(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("vault: reading blob: %w", err)
	}
	return data, nil
}

// Exists reports whether the blob is present on disk.
func (v *Vault) Exists(ref Ref) bool {
	path, err := v.pathFor(ref)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

// Delete unlinks the blob. Returns ErrMissing if it was not present; any
// other failure is returned as-is so a secure delete can abort.
func (v *Vault) Delete(ref Ref) error {
	path, err := v.pathFor(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrMissing
		}
		return fmt.Errorf("vault: deleting blob: %w", err)
	}
	return nil
}

// ListOrphans returns every blob still on disk for the project, sorted.
// After a secure delete has removed all owning rows, anything returned here
// is an orphan; the caller fails the operation when the set is non-empty.
func (v *Vault) ListOrphans(projectID string) ([]Ref, error) {
	projectDir := filepath.Join(v.root, projectID)
	var refs []Ref

	err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			return relErr
		}
		refs = append(refs, Ref(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: listing orphans: %w", err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// RemoveProjectDir prunes the project's (now empty) directory tree. Called
// at the end of a secure delete; fails if any blob file remains.
func (v *Vault) RemoveProjectDir(projectID string) error {
	orphans, err := v.ListOrphans(projectID)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		return fmt.Errorf("vault: project dir not empty: %d blobs remain", len(orphans))
	}
	if err := os.RemoveAll(filepath.Join(v.root, projectID)); err != nil {
		return fmt.Errorf("vault: removing project dir: %w", err)
	}
	return nil
}
