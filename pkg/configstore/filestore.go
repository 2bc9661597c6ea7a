package configstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

const (
	namedDir        = "named"
	maxSaveAttempts = 16
)

// FileStore keeps each version as its own JSON artifact:
//
//	<root>/<Vendor-Standard-MessageType>/v000001.json
//	<root>/named/<name>.json
//
// Versions are claimed with a hard link from a fully written temp file, so a version file
// is never overwritten and never observed half written. Named copies are replaced with an
// atomic rename.
type FileStore struct {
	root string
	now  func() time.Time
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, namedDir), 0o755); err != nil {
		return nil, &StorageError{Op: "init", Ref: root, Err: err}
	}
	return &FileStore{root: root, now: time.Now}, nil
}

func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Save(ctx context.Context, cfg *vendorconfig.VendorConfiguration) (string, error) {
	if err := cfg.Address.Validate(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, cfg.Address.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StorageError{Op: "save", Ref: cfg.Address.String(), Err: err}
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		latest, err := s.latest(cfg.Address)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		versioned := nextVersion(cfg, latest, s.now().UTC())
		path := filepath.Join(dir, versionFile(versioned.Metadata.Version))

		err = s.claim(dir, path, versioned)
		if errors.Is(err, errVersionTaken) {
			continue
		}
		if err != nil {
			return "", err
		}

		entry := logger.WithFields(map[string]interface{}{
			"address": cfg.Address.String(),
			"version": versioned.Metadata.Version,
			"path":    path,
		})
		if latest != nil && latest.Fingerprint() == versioned.Fingerprint() {
			entry.Info("Configuration saved, shape unchanged since previous version")
		} else {
			entry.Info("Configuration saved")
		}
		return path, nil
	}
	return "", &StorageError{Op: "save", Ref: cfg.Address.String(), Err: fmt.Errorf("gave up after %d concurrent version conflicts", maxSaveAttempts)}
}

// claim writes the artifact to a temp file and links it into place. A link fails if the
// version file exists, which tells the caller another writer took that version.
func (s *FileStore) claim(dir, path string, cfg *vendorconfig.VendorConfiguration) error {
	data, err := vendorconfig.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return &StorageError{Op: "save", Ref: cfg.Address.String(), Err: err}
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errVersionTaken
		}
		return &StorageError{Op: "save", Ref: path, Err: err}
	}
	return nil
}

// SaveAs stores a new version and also writes a portable copy under a human-assigned name.
func (s *FileStore) SaveAs(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (string, *vendorconfig.VendorConfiguration, error) {
	if err := validName(name); err != nil {
		return "", nil, err
	}
	path, err := s.Save(ctx, cfg)
	if err != nil {
		return "", nil, err
	}
	saved, err := s.readFile(path)
	if err != nil {
		return "", nil, err
	}
	data, err := vendorconfig.Marshal(saved)
	if err != nil {
		return "", nil, err
	}

	dir := filepath.Join(s.root, namedDir)
	named := filepath.Join(dir, name+".json")
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return "", nil, &StorageError{Op: "save", Ref: name, Err: err}
	}
	if err := os.Rename(tmp, named); err != nil {
		os.Remove(tmp)
		return "", nil, &StorageError{Op: "save", Ref: name, Err: err}
	}
	return named, saved, nil
}

// Load accepts an address (latest version), an address@version, a saved name or a path
// to a configuration file under the store root.
func (s *FileStore) Load(ctx context.Context, ref string) (*vendorconfig.VendorConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	switch {
	case parsed.Version > 0:
		return s.LoadVersion(ctx, parsed.Address, parsed.Version)
	case !parsed.Address.IsZero():
		return s.latest(parsed.Address)
	}

	if validName(parsed.Name) == nil {
		cfg, err := s.readFile(filepath.Join(s.root, namedDir, parsed.Name+".json"))
		if !errors.Is(err, ErrNotFound) {
			return cfg, err
		}
	}
	if strings.HasSuffix(parsed.Name, ".json") {
		path, ok := s.contains(parsed.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s is outside the store", ErrNotFound, ref)
		}
		return s.readFile(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// contains resolves path and reports whether it lies under the store root.
func (s *FileStore) contains(path string) (string, bool) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

func (s *FileStore) LoadVersion(ctx context.Context, addr vendorconfig.Address, version int) (*vendorconfig.VendorConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readFile(filepath.Join(s.root, addr.String(), versionFile(version)))
}

func (s *FileStore) Versions(ctx context.Context, addr vendorconfig.Address) ([]VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions, err := s.versionNumbers(addr)
	if err != nil {
		return nil, err
	}
	out := make([]VersionInfo, 0, len(versions))
	previous := ""
	for _, v := range versions {
		cfg, err := s.readFile(filepath.Join(s.root, addr.String(), versionFile(v)))
		if err != nil {
			return nil, err
		}
		info := versionInfo(cfg, previous)
		previous = info.Fingerprint
		out = append(out, info)
	}
	return out, nil
}

// List returns the latest version of every stored address matching the filter, ordered
// by address.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]*vendorconfig.VendorConfiguration, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &StorageError{Op: "list", Ref: s.root, Err: err}
	}
	var out []*vendorconfig.VendorConfiguration
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || e.Name() == namedDir {
			continue
		}
		addr, err := vendorconfig.ParseAddress(e.Name())
		if err != nil || !filter.Matches(addr) {
			continue
		}
		cfg, err := s.latest(addr)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (s *FileStore) latest(addr vendorconfig.Address) (*vendorconfig.VendorConfiguration, error) {
	versions, err := s.versionNumbers(addr)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return s.readFile(filepath.Join(s.root, addr.String(), versionFile(versions[len(versions)-1])))
}

func (s *FileStore) versionNumbers(addr vendorconfig.Address) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, addr.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "list versions", Ref: addr.String(), Err: err}
	}
	var versions []int
	for _, e := range entries {
		if v, ok := parseVersionFile(e.Name()); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *FileStore) readFile(path string) (*vendorconfig.VendorConfiguration, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Ref: path, Err: err}
	}
	cfg, err := vendorconfig.Unmarshal(data)
	if err != nil {
		return nil, &StorageError{Op: "load", Ref: path, Err: err}
	}
	return cfg, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString()+".json")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func versionFile(version int) string {
	return fmt.Sprintf("v%06d.json", version)
}

func parseVersionFile(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
