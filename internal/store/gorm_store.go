package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"coderoom/internal/models"
)

// GormStore keeps documents in a SQL table keyed by room_id.
type GormStore struct {
	DB *gorm.DB
}

func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormStore(db)
}

func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite allows a single writer
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db)
}

// NewGormStore migrates the documents table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) FindByRoom(ctx context.Context, roomID string) (*models.Document, error) {
	var doc models.Document
	err := s.DB.WithContext(ctx).First(&doc, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) FindOrCreate(ctx context.Context, roomID, defaultContent string) (*models.Document, error) {
	seed := models.Document{RoomID: roomID, Content: defaultContent, UpdatedAt: time.Now().UTC()}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return nil, err
	}
	return s.FindByRoom(ctx, roomID)
}

func (s *GormStore) Upsert(ctx context.Context, roomID, content string, updatedAt time.Time) error {
	doc := models.Document{RoomID: roomID, Content: content, UpdatedAt: updatedAt.UTC()}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
		}).
		Create(&doc).Error
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
