package binding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "reelstack.local/reel-gateway/internal/db"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string, logger *log.Logger) (*GormStore, error) {
	db, err := dbpkg.OpenGorm(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open binding store: %w", err)
	}
	return newGormStore(db)
}

// newGormStore migrates db and takes ownership of it. db is closed when the
// migration fails.
func newGormStore(db *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: db}
	if err := db.AutoMigrate(&bindingRow{}); err != nil {
		if closeErr := store.Close(); closeErr != nil {
			return nil, fmt.Errorf("migrate binding store: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("migrate binding store: %w", err)
	}
	return store, nil
}

func (s *GormStore) Lookup(ctx context.Context, licenseKey string) (Binding, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return Binding{}, fmt.Errorf("license key is required")
	}
	row, err := takeRow(s.db.WithContext(ctx), licenseKey)
	if err != nil {
		return Binding{}, err
	}
	return row.toBinding(), nil
}

func (s *GormStore) Bind(ctx context.Context, b Binding) (Binding, error) {
	if err := validateBinding(b); err != nil {
		return Binding{}, err
	}
	now := time.Now().UTC()

	var out Binding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := takeRow(tx, b.LicenseKey)
		if errors.Is(err, ErrNotFound) {
			row = bindingRowFrom(b, now)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("create binding: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				out = row.toBinding()
				return nil
			}
			// Lost a race with a concurrent activation of the same key.
			row, err = takeRow(tx, b.LicenseKey)
		}
		if err != nil {
			return err
		}

		if row.HWID != b.Device {
			return mismatch(row.toBinding())
		}
		row.LastSeen = now
		if b.Login != "" {
			row.Login = b.Login
		}
		if b.PCName != "" {
			row.PCName = b.PCName
		}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("touch binding: %w", err)
		}
		out = row.toBinding()
		return nil
	})
	if err != nil {
		return Binding{}, err
	}
	return out, nil
}

func (s *GormStore) Rebind(ctx context.Context, licenseKey, oldDevice, newDevice string) (Binding, error) {
	if strings.TrimSpace(newDevice) == "" {
		return Binding{}, fmt.Errorf("new device is required")
	}
	now := time.Now().UTC()

	var out Binding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := takeRow(tx, licenseKey)
		if err != nil {
			return err
		}
		if row.HWID != oldDevice {
			return mismatch(row.toBinding())
		}
		row.HWID = newDevice
		row.BoundAt = now
		row.LastSeen = now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("rebind: %w", err)
		}
		out = row.toBinding()
		return nil
	})
	if err != nil {
		return Binding{}, err
	}
	return out, nil
}

func (s *GormStore) Unbind(ctx context.Context, licenseKey string) error {
	res := s.db.WithContext(ctx).Where("license_key = ?", strings.TrimSpace(licenseKey)).Delete(&bindingRow{})
	if res.Error != nil {
		return fmt.Errorf("unbind: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, licenseKey)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

func takeRow(tx *gorm.DB, licenseKey string) (bindingRow, error) {
	var row bindingRow
	if err := tx.Where("license_key = ?", licenseKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bindingRow{}, fmt.Errorf("%w: %s", ErrNotFound, licenseKey)
		}
		return bindingRow{}, fmt.Errorf("get binding: %w", err)
	}
	return row, nil
}

type bindingRow struct {
	LicenseKey string    `gorm:"primaryKey;size:191"`
	HWID       string    `gorm:"column:hwid;size:512;not null"`
	PCName     string    `gorm:"size:255"`
	Login      string    `gorm:"size:255"`
	BoundAt    time.Time `gorm:"not null"`
	LastSeen   time.Time `gorm:"not null"`
}

func (bindingRow) TableName() string {
	return "hwid_bindings"
}

func bindingRowFrom(b Binding, now time.Time) bindingRow {
	return bindingRow{
		LicenseKey: b.LicenseKey,
		HWID:       b.Device,
		PCName:     b.PCName,
		Login:      b.Login,
		BoundAt:    now,
		LastSeen:   now,
	}
}

func (r bindingRow) toBinding() Binding {
	return Binding{
		LicenseKey: r.LicenseKey,
		Device:     r.HWID,
		PCName:     r.PCName,
		Login:      r.Login,
		BoundAt:    r.BoundAt.UTC(),
		LastSeenAt: r.LastSeen.UTC(),
	}
}
