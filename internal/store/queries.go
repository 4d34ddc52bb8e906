package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"killwatch/pkg/models"
)

// UnprocessedStubs returns rows accepted from the feed whose enrichment never
// completed, oldest first. Used on startup to requeue interrupted work.
func (s *Store) UnprocessedStubs(limit int) ([]*models.KillStub, error) {
	var rows []KillRow
	q := s.db.Where("processed = ?", false).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	stubs := make([]*models.KillStub, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		stubs = append(stubs, &models.KillStub{
			KillID:              r.KillID,
			Hash:                r.Hash,
			SolarSystemID:       r.SolarSystemID,
			VictimCorporationID: r.VictimCorporationID,
			VictimAllianceID:    r.VictimAllianceID,
			HintValue:           r.TotalValue,
		})
	}
	return stubs, nil
}

// KillsBetween returns enriched kills in [from, to), ordered by kill time.
func (s *Store) KillsBetween(from, to time.Time) ([]*models.ProcessedKill, error) {
	var rows []KillRow
	err := s.db.Where("processed = ? AND time >= ? AND time < ?", true, from, to).
		Order("time asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	kills := make([]*models.ProcessedKill, 0, len(rows))
	for i := range rows {
		kills = append(kills, killFromRow(&rows[i]))
	}
	return kills, nil
}

// KillCount returns the number of stored kills.
func (s *Store) KillCount() (int64, error) {
	var n int64
	err := s.db.Model(&KillRow{}).Count(&n).Error
	return n, err
}

// LatestDetection returns the most recent detection for a location, nil when
// the location has none.
func (s *Store) LatestDetection(systemID int32) (*models.DetectionRecord, error) {
	var row DetectionRow
	err := s.db.Where("solar_system_id = ?", systemID).
		Order("detected_at desc").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return detectionFromRow(&row), nil
}

// DetectionsBetween returns detections in [from, to), ordered by time.
func (s *Store) DetectionsBetween(from, to time.Time) ([]*models.DetectionRecord, error) {
	var rows []DetectionRow
	err := s.db.Where("detected_at >= ? AND detected_at < ?", from, to).
		Order("detected_at asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.DetectionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, detectionFromRow(&rows[i]))
	}
	return out, nil
}

// DetectionCount returns the number of stored detections.
func (s *Store) DetectionCount() (int64, error) {
	var n int64
	err := s.db.Model(&DetectionRow{}).Count(&n).Error
	return n, err
}

// SweepKills deletes kill rows accepted before the cutoff. Returns the number
// of rows removed.
func (s *Store) SweepKills(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&KillRow{})
	return res.RowsAffected, res.Error
}

// SweepDetections deletes detections older than the cutoff.
func (s *Store) SweepDetections(cutoff time.Time) (int64, error) {
	res := s.db.Where("detected_at < ?", cutoff).Delete(&DetectionRow{})
	return res.RowsAffected, res.Error
}
