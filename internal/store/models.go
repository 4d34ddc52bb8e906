package store

import (
	"time"

	"killwatch/pkg/models"
)

// KillRow is the persisted form of a kill. A row is created when the stub is
// first accepted and filled in once enrichment completes; the kill identifier
// is the primary key, which makes repeated feed deliveries idempotent.
type KillRow struct {
	KillID        int64     `gorm:"primaryKey;autoIncrement:false"`
	Hash          string    `gorm:"size:64"`
	Time          time.Time `gorm:"index"`
	SolarSystemID int32     `gorm:"index"`

	VictimCharacterID   int64
	VictimCorporationID int64
	VictimAllianceID    int64
	VictimFactionID     int64
	VictimShipTypeID    int32

	AttackerCount        int
	AttackerCorporations Int64List `gorm:"type:text"`
	AttackerAlliances    Int64List `gorm:"type:text"`
	AttackerFactions     Int64List `gorm:"type:text"`
	AttackerShipTypes    Int32List `gorm:"type:text"`

	FinalBlowCharacterID  int64
	FinalBlowShipTypeID   int32
	FinalBlowWeaponTypeID int32

	TotalValue float64
	Pod        bool
	WarID      int64

	RuleTags RuleTagList `gorm:"type:text"`

	Processed bool `gorm:"index"`
	SeenCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CursorRow tracks feed progress per subscription so a restart resumes where
// the previous run stopped.
type CursorRow struct {
	ID         uint   `gorm:"primaryKey"`
	QueueID    string `gorm:"uniqueIndex:uniq_cursor_queue;size:128"`
	LastPollAt time.Time
	LastKillID int64
	UpdatedAt  time.Time
}

// DetectionRow is one persisted gatecamp detection.
type DetectionRow struct {
	ID              uint      `gorm:"primaryKey"`
	DetectionID     string    `gorm:"uniqueIndex:uniq_detection_id;size:64"`
	SolarSystemID   int32     `gorm:"index"`
	DetectedAt      time.Time `gorm:"index"`
	Confidence      string    `gorm:"size:16"`
	KillCount       int
	PodCount        int
	OverlapRatio    float64
	Smartbomb       bool
	TopCorporations Int64List `gorm:"type:text"`
	TotalValue      float64
	CreatedAt       time.Time
}

func rowFromStub(s *models.KillStub) KillRow {
	return KillRow{
		KillID:              s.KillID,
		Hash:                s.Hash,
		SolarSystemID:       s.SolarSystemID,
		VictimCorporationID: s.VictimCorporationID,
		VictimAllianceID:    s.VictimAllianceID,
		TotalValue:          s.HintValue,
		SeenCount:           1,
	}
}

func rowFromKill(k *models.ProcessedKill) KillRow {
	return KillRow{
		KillID:                k.KillID,
		Hash:                  k.Hash,
		Time:                  k.Time,
		SolarSystemID:         k.SolarSystemID,
		VictimCharacterID:     k.VictimCharacterID,
		VictimCorporationID:   k.VictimCorporationID,
		VictimAllianceID:      k.VictimAllianceID,
		VictimFactionID:       k.VictimFactionID,
		VictimShipTypeID:      k.VictimShipTypeID,
		AttackerCount:         k.AttackerCount,
		AttackerCorporations:  Int64List(k.AttackerCorporations),
		AttackerAlliances:     Int64List(k.AttackerAlliances),
		AttackerFactions:      Int64List(k.AttackerFactions),
		AttackerShipTypes:     Int32List(k.AttackerShipTypes),
		FinalBlowCharacterID:  k.FinalBlowCharacterID,
		FinalBlowShipTypeID:   k.FinalBlowShipTypeID,
		FinalBlowWeaponTypeID: k.FinalBlowWeaponTypeID,
		TotalValue:            k.TotalValue,
		Pod:                   k.Pod,
		WarID:                 k.WarID,
		RuleTags:              RuleTagList(k.RuleTags),
		Processed:             true,
		SeenCount:             1,
	}
}

func killFromRow(r *KillRow) *models.ProcessedKill {
	return &models.ProcessedKill{
		KillID:                r.KillID,
		Hash:                  r.Hash,
		Time:                  r.Time,
		SolarSystemID:         r.SolarSystemID,
		VictimCharacterID:     r.VictimCharacterID,
		VictimCorporationID:   r.VictimCorporationID,
		VictimAllianceID:      r.VictimAllianceID,
		VictimFactionID:       r.VictimFactionID,
		VictimShipTypeID:      r.VictimShipTypeID,
		AttackerCount:         r.AttackerCount,
		AttackerCorporations:  []int64(r.AttackerCorporations),
		AttackerAlliances:     []int64(r.AttackerAlliances),
		AttackerFactions:      []int64(r.AttackerFactions),
		AttackerShipTypes:     []int32(r.AttackerShipTypes),
		FinalBlowCharacterID:  r.FinalBlowCharacterID,
		FinalBlowShipTypeID:   r.FinalBlowShipTypeID,
		FinalBlowWeaponTypeID: r.FinalBlowWeaponTypeID,
		TotalValue:            r.TotalValue,
		Pod:                   r.Pod,
		WarID:                 r.WarID,
		RuleTags:              []models.RuleTag(r.RuleTags),
	}
}

func rowFromDetection(d *models.DetectionRecord) DetectionRow {
	return DetectionRow{
		DetectionID:     d.ID,
		SolarSystemID:   d.SolarSystemID,
		DetectedAt:      d.DetectedAt,
		Confidence:      string(d.Confidence),
		KillCount:       d.KillCount,
		PodCount:        d.PodCount,
		OverlapRatio:    d.OverlapRatio,
		Smartbomb:       d.Smartbomb,
		TopCorporations: Int64List(d.TopCorporations),
		TotalValue:      d.TotalValue,
	}
}

func detectionFromRow(r *DetectionRow) *models.DetectionRecord {
	return &models.DetectionRecord{
		ID:              r.DetectionID,
		SolarSystemID:   r.SolarSystemID,
		DetectedAt:      r.DetectedAt,
		Confidence:      models.Confidence(r.Confidence),
		KillCount:       r.KillCount,
		PodCount:        r.PodCount,
		OverlapRatio:    r.OverlapRatio,
		Smartbomb:       r.Smartbomb,
		TopCorporations: []int64(r.TopCorporations),
		TotalValue:      r.TotalValue,
	}
}
