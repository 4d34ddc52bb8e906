package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"killwatch/pkg/models"
)

// Store wraps the local SQLite database holding kills, feed cursors and
// gatecamp detections.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&KillRow{}, &CursorRow{}, &DetectionRow{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// InsertStubs inserts accepted feed stubs, ignoring kill IDs already present.
// Returns the number of rows actually created.
func (s *Store) InsertStubs(stubs []*models.KillStub) (int, error) {
	if len(stubs) == 0 {
		return 0, nil
	}
	rows := make([]KillRow, 0, len(stubs))
	for _, st := range stubs {
		rows = append(rows, rowFromStub(st))
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("insert stubs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// enrichedColumns are the columns enrichment is allowed to overwrite. The
// created_at and seen_count columns stay with the original stub row.
var enrichedColumns = []string{
	"hash", "time", "solar_system_id",
	"victim_character_id", "victim_corporation_id", "victim_alliance_id",
	"victim_faction_id", "victim_ship_type_id",
	"attacker_count", "attacker_corporations", "attacker_alliances",
	"attacker_factions", "attacker_ship_types",
	"final_blow_character_id", "final_blow_ship_type_id", "final_blow_weapon_type_id",
	"total_value", "pod", "war_id", "rule_tags", "processed", "updated_at",
}

// UpsertKills writes enriched kills, inserting new rows or completing rows
// created from stubs.
func (s *Store) UpsertKills(kills []*models.ProcessedKill) (int, error) {
	if len(kills) == 0 {
		return 0, nil
	}
	rows := make([]KillRow, 0, len(kills))
	for _, k := range kills {
		rows = append(rows, rowFromKill(k))
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kill_id"}},
		DoUpdates: clause.AssignmentColumns(enrichedColumns),
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert kills: %w", res.Error)
	}
	return len(rows), nil
}

// HasKill reports whether any row exists for the kill, processed or not.
func (s *Store) HasKill(killID int64) (bool, error) {
	var row KillRow
	err := s.db.Select("kill_id").
		Where("kill_id = ?", killID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsProcessed reports whether the kill already has a completed row.
func (s *Store) IsProcessed(killID int64) (bool, error) {
	var row KillRow
	err := s.db.Select("kill_id").
		Where("kill_id = ? AND processed = ?", killID, true).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TouchSeen bumps the duplicate-delivery counter for a kill.
func (s *Store) TouchSeen(killID int64) error {
	return s.db.Model(&KillRow{}).
		Where("kill_id = ?", killID).
		UpdateColumn("seen_count", gorm.Expr("seen_count + 1")).Error
}

// SaveCursor records feed progress for a subscription.
func (s *Store) SaveCursor(queueID string, lastPoll time.Time, lastKillID int64) error {
	row := CursorRow{
		QueueID:    queueID,
		LastPollAt: lastPoll,
		LastKillID: lastKillID,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_poll_at", "last_kill_id", "updated_at"}),
	}).Create(&row).Error
}

// LoadCursor returns the stored feed position, zero values when none exists.
func (s *Store) LoadCursor(queueID string) (time.Time, int64, error) {
	var row CursorRow
	err := s.db.Where("queue_id = ?", queueID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, 0, nil
		}
		return time.Time{}, 0, err
	}
	return row.LastPollAt, row.LastKillID, nil
}

// InsertDetection persists one gatecamp detection.
func (s *Store) InsertDetection(d *models.DetectionRecord) error {
	row := rowFromDetection(d)
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}
