//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/himanishpuri/AcousticSync/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "acousticsync.sqlite3"
const errDBClientNil = "db client is nil"

var ErrNotFound = errors.New("alignment not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Alignment struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	MasterPath    string `gorm:"uniqueIndex:idx_alignment_pair,priority:1;index:idx_master"`
	ClipPath      string `gorm:"uniqueIndex:idx_alignment_pair,priority:2"`
	SampleRate    int
	WindowLength  int
	BandStep      int
	OffsetWindows int
	StartIndex    int64
	OffsetMs      int64
	MatchCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("ACOUSTIC_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Alignment{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveAlignment stores a, replacing any earlier alignment of the same
// master and clip, and returns the stored record's ID.
func (c *DBClient) SaveAlignment(a models.Alignment) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}

	var id string
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var existing Alignment
		err := tx.Where("master_path = ? AND clip_path = ?", a.MasterPath, a.ClipPath).First(&existing).Error
		switch {
		case err == nil:
			id = existing.ID
			row := toRow(a)
			row.ID = id
			row.CreatedAt = existing.CreatedAt
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("updating alignment: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := toRow(a)
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			id = row.ID
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("creating alignment: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("querying existing alignment: %w", err)
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *DBClient) GetAlignment(id string) (models.Alignment, error) {
	if c == nil || c.DB == nil {
		return models.Alignment{}, errors.New(errDBClientNil)
	}
	var row Alignment
	if err := c.DB.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Alignment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Alignment{}, fmt.Errorf("querying alignment: %w", err)
	}
	return fromRow(row), nil
}

// ListAlignments returns the alignments of masterPath, or all alignments
// when masterPath is empty, ordered by master then offset.
func (c *DBClient) ListAlignments(masterPath string) ([]models.Alignment, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Order("master_path").Order("start_index").Order("clip_path")
	if masterPath != "" {
		q = q.Where("master_path = ?", masterPath)
	}
	var rows []Alignment
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing alignments: %w", err)
	}
	out := make([]models.Alignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (c *DBClient) DeleteAlignment(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("id = ?", id).Delete(&Alignment{})
	if res.Error != nil {
		return fmt.Errorf("deleting alignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteAlignmentsByMaster removes every alignment against masterPath and
// returns how many were removed.
func (c *DBClient) DeleteAlignmentsByMaster(masterPath string) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	res := c.DB.Where("master_path = ?", masterPath).Delete(&Alignment{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting alignments: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (c *DBClient) CountAlignments() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Alignment{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting alignments: %w", err)
	}
	return n, nil
}

func toRow(a models.Alignment) Alignment {
	return Alignment{
		ID:            a.ID,
		MasterPath:    a.MasterPath,
		ClipPath:      a.ClipPath,
		SampleRate:    a.SampleRate,
		WindowLength:  a.WindowLength,
		BandStep:      a.BandStep,
		OffsetWindows: a.OffsetWindow,
		StartIndex:    a.StartIndex,
		OffsetMs:      a.OffsetMs,
		MatchCount:    a.MatchCount,
	}
}

func fromRow(r Alignment) models.Alignment {
	created := r.UpdatedAt
	if created.IsZero() {
		created = r.CreatedAt
	}
	return models.Alignment{
		ID:           r.ID,
		MasterPath:   r.MasterPath,
		ClipPath:     r.ClipPath,
		SampleRate:   r.SampleRate,
		WindowLength: r.WindowLength,
		BandStep:     r.BandStep,
		OffsetWindow: r.OffsetWindows,
		StartIndex:   r.StartIndex,
		OffsetMs:     r.OffsetMs,
		MatchCount:   r.MatchCount,
		CreatedAt:    created,
	}
}
