package configstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

// ConfigurationModel is one stored version. (address, version) is unique, so concurrent
// writers of the same version collide on insert instead of overwriting each other.
type ConfigurationModel struct {
	ID          uint           `gorm:"primaryKey;column:id"`
	Address     string         `gorm:"column:address;size:255;not null;uniqueIndex:idx_vendor_configurations_address_version"`
	Version     int            `gorm:"column:version;not null;uniqueIndex:idx_vendor_configurations_address_version"`
	Vendor      string         `gorm:"column:vendor;size:128;index"`
	Standard    string         `gorm:"column:standard;size:32;index"`
	MessageType string         `gorm:"column:message_type;size:64"`
	Name        string         `gorm:"column:name;size:255;index"`
	Confidence  float64        `gorm:"column:confidence"`
	Fingerprint string         `gorm:"column:fingerprint;size:64"`
	Document    datatypes.JSON `gorm:"column:document;type:jsonb"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (ConfigurationModel) TableName() string {
	return "vendor_configurations"
}

// GormStore keeps configuration versions in PostgreSQL.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ConfigurationModel{})
}

func (s *GormStore) Save(ctx context.Context, cfg *vendorconfig.VendorConfiguration) (string, error) {
	rec, err := s.insert(ctx, cfg, "")
	if err != nil {
		return "", err
	}
	return VersionRef(cfg.Address, rec.Version), nil
}

func (s *GormStore) SaveAs(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (string, *vendorconfig.VendorConfiguration, error) {
	if err := validName(name); err != nil {
		return "", nil, err
	}
	rec, err := s.insert(ctx, cfg, name)
	if err != nil {
		return "", nil, err
	}
	saved, err := fromModel(rec)
	if err != nil {
		return "", nil, err
	}
	return name, saved, nil
}

func (s *GormStore) insert(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (*ConfigurationModel, error) {
	if err := cfg.Address.Validate(); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		latest, err := s.latest(ctx, cfg.Address)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		rec, err := toModel(nextVersion(cfg, latest, s.now().UTC()), name)
		if err != nil {
			return nil, err
		}

		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if result.Error != nil {
			return nil, &StorageError{Op: "save", Ref: cfg.Address.String(), Err: result.Error}
		}
		if result.RowsAffected == 0 {
			continue
		}
		logger.WithFields(map[string]interface{}{
			"address": rec.Address,
			"version": rec.Version,
			"name":    name,
		}).Info("Configuration saved")
		return rec, nil
	}
	return nil, &StorageError{Op: "save", Ref: cfg.Address.String(), Err: fmt.Errorf("gave up after %d concurrent version conflicts", maxSaveAttempts)}
}

func (s *GormStore) Load(ctx context.Context, ref string) (*vendorconfig.VendorConfiguration, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	switch {
	case parsed.Version > 0:
		return s.LoadVersion(ctx, parsed.Address, parsed.Version)
	case !parsed.Address.IsZero():
		return s.latest(ctx, parsed.Address)
	}
	var rec ConfigurationModel
	result := s.db.WithContext(ctx).Where("name = ?", parsed.Name).Order("created_at DESC, id DESC").First(&rec)
	return fromResult(&rec, result.Error, ref)
}

func (s *GormStore) LoadVersion(ctx context.Context, addr vendorconfig.Address, version int) (*vendorconfig.VendorConfiguration, error) {
	var rec ConfigurationModel
	result := s.db.WithContext(ctx).Where("address = ? AND version = ?", addr.String(), version).First(&rec)
	return fromResult(&rec, result.Error, VersionRef(addr, version))
}

func (s *GormStore) Versions(ctx context.Context, addr vendorconfig.Address) ([]VersionInfo, error) {
	var recs []ConfigurationModel
	if err := s.db.WithContext(ctx).Where("address = ?", addr.String()).Order("version ASC").Find(&recs).Error; err != nil {
		return nil, &StorageError{Op: "list versions", Ref: addr.String(), Err: err}
	}
	out := make([]VersionInfo, 0, len(recs))
	previous := ""
	for _, rec := range recs {
		out = append(out, VersionInfo{
			Version:     rec.Version,
			SavedAt:     rec.CreatedAt.UTC(),
			Confidence:  rec.Confidence,
			Fingerprint: rec.Fingerprint,
			Unchanged:   previous != "" && previous == rec.Fingerprint,
			Ref:         VersionRef(addr, rec.Version),
		})
		previous = rec.Fingerprint
	}
	return out, nil
}

func (s *GormStore) List(ctx context.Context, filter Filter) ([]*vendorconfig.VendorConfiguration, error) {
	latest := s.db.Model(&ConfigurationModel{}).Select("address, MAX(version) AS version").Group("address")
	query := s.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.address = vendor_configurations.address AND latest.version = vendor_configurations.version", latest)
	if filter.Vendor != "" {
		query = query.Where("LOWER(vendor_configurations.vendor) = ?", strings.ToLower(filter.Vendor))
	}
	if filter.Standard != "" {
		query = query.Where("vendor_configurations.standard = ?", string(filter.Standard))
	}
	if filter.MessageType != "" {
		query = query.Where("LOWER(vendor_configurations.message_type) = ?", strings.ToLower(filter.MessageType))
	}

	var recs []ConfigurationModel
	if err := query.Order("vendor_configurations.address ASC").Find(&recs).Error; err != nil {
		return nil, &StorageError{Op: "list", Ref: "vendor_configurations", Err: err}
	}
	out := make([]*vendorconfig.VendorConfiguration, 0, len(recs))
	for i := range recs {
		cfg, err := fromModel(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *GormStore) latest(ctx context.Context, addr vendorconfig.Address) (*vendorconfig.VendorConfiguration, error) {
	var rec ConfigurationModel
	result := s.db.WithContext(ctx).Where("address = ?", addr.String()).Order("version DESC").First(&rec)
	return fromResult(&rec, result.Error, addr.String())
}

func toModel(cfg *vendorconfig.VendorConfiguration, name string) (*ConfigurationModel, error) {
	doc, err := vendorconfig.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return &ConfigurationModel{
		Address:     cfg.Address.String(),
		Version:     cfg.Metadata.Version,
		Vendor:      cfg.Address.Vendor,
		Standard:    string(cfg.Address.Standard),
		MessageType: cfg.Address.MessageType,
		Name:        name,
		Confidence:  cfg.Metadata.Confidence,
		Fingerprint: cfg.Fingerprint(),
		Document:    datatypes.JSON(doc),
		CreatedAt:   cfg.Metadata.LastUpdated,
	}, nil
}

func fromModel(rec *ConfigurationModel) (*vendorconfig.VendorConfiguration, error) {
	cfg, err := vendorconfig.Unmarshal([]byte(rec.Document))
	if err != nil {
		return nil, &StorageError{Op: "load", Ref: fmt.Sprintf("%s@%d", rec.Address, rec.Version), Err: err}
	}
	return cfg, nil
}

func fromResult(rec *ConfigurationModel, err error, ref string) (*vendorconfig.VendorConfiguration, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Ref: ref, Err: err}
	}
	return fromModel(rec)
}
