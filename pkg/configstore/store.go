package configstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

var (
	ErrNotFound     = errors.New("configuration not found")
	ErrStorageIO    = errors.New("configuration storage failure")
	ErrInvalidName  = errors.New("invalid configuration name")
	errVersionTaken = errors.New("version already written")
)

// StorageError wraps a backend failure. It matches ErrStorageIO and unwraps to the
// underlying cause; callers may retry.
type StorageError struct {
	Op  string
	Ref string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageIO
}

// Store persists immutable, versioned vendor configurations. Saving under an existing
// address writes the next version; Load resolves an address to its latest version.
// SaveAs also returns the version it wrote, since a name may be reassigned by a later save.
type Store interface {
	Save(ctx context.Context, cfg *vendorconfig.VendorConfiguration) (string, error)
	SaveAs(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (string, *vendorconfig.VendorConfiguration, error)
	Load(ctx context.Context, ref string) (*vendorconfig.VendorConfiguration, error)
	LoadVersion(ctx context.Context, addr vendorconfig.Address, version int) (*vendorconfig.VendorConfiguration, error)
	Versions(ctx context.Context, addr vendorconfig.Address) ([]VersionInfo, error)
	List(ctx context.Context, filter Filter) ([]*vendorconfig.VendorConfiguration, error)
}

type Filter struct {
	Vendor      string
	Standard    standards.Standard
	MessageType string
}

func (f Filter) Matches(addr vendorconfig.Address) bool {
	if f.Vendor != "" && !strings.EqualFold(f.Vendor, addr.Vendor) {
		return false
	}
	if f.Standard != standards.Unknown && f.Standard != addr.Standard {
		return false
	}
	if f.MessageType != "" && !strings.EqualFold(f.MessageType, addr.MessageType) {
		return false
	}
	return true
}

// VersionInfo summarises one stored version. Unchanged is set when the observed shape is
// identical to the previous version's.
type VersionInfo struct {
	Version     int       `json:"version"`
	SavedAt     time.Time `json:"savedAt"`
	Confidence  float64   `json:"confidence"`
	Fingerprint string    `json:"fingerprint"`
	Unchanged   bool      `json:"unchanged"`
	Ref         string    `json:"ref"`
}

// Reference is a parsed load reference: "Vendor-Standard-MessageType" for the latest
// version, "Vendor-Standard-MessageType@3" for version 3, anything else a name.
type Reference struct {
	Address vendorconfig.Address
	Version int
	Name    string
}

func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	token, version := ref, 0
	if i := strings.LastIndex(ref, "@"); i > 0 {
		v, err := strconv.Atoi(ref[i+1:])
		if err != nil || v < 1 {
			return Reference{}, &vendorconfig.InvalidAddressError{Token: ref, Reason: "version must be a positive integer"}
		}
		token, version = ref[:i], v
	}
	addr, err := vendorconfig.ParseAddress(token)
	if err != nil {
		if version > 0 {
			return Reference{}, err
		}
		return Reference{Name: ref}, nil
	}
	return Reference{Address: addr, Version: version}, nil
}

// VersionRef formats the reference of one stored version.
func VersionRef(addr vendorconfig.Address, version int) string {
	return fmt.Sprintf("%s@%d", addr, version)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c == '_' || c == '-' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// nextVersion stamps a configuration as the version following latest. FirstSeen is
// carried over from the previous version when there is one.
func nextVersion(cfg *vendorconfig.VendorConfiguration, latest *vendorconfig.VendorConfiguration, now time.Time) *vendorconfig.VendorConfiguration {
	if latest == nil {
		firstSeen := cfg.Metadata.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		return cfg.WithVersion(1, firstSeen, now)
	}
	return cfg.WithVersion(latest.Metadata.Version+1, latest.Metadata.FirstSeen, now)
}

func versionInfo(cfg *vendorconfig.VendorConfiguration, previous string) VersionInfo {
	fp := cfg.Fingerprint()
	return VersionInfo{
		Version:     cfg.Metadata.Version,
		SavedAt:     cfg.Metadata.LastUpdated,
		Confidence:  cfg.Metadata.Confidence,
		Fingerprint: fp,
		Unchanged:   previous != "" && previous == fp,
		Ref:         VersionRef(cfg.Address, cfg.Metadata.Version),
	}
}
