package database

// RecordSnapshot stores snapshot metadata and returns its ID.
func RecordSnapshot(s *Snapshot) (uint, error) {
	if err := DB.Create(s).Error; err != nil {
		return 0, err
	}
	return s.ID, nil
}

func GetSnapshot(id uint) (*Snapshot, error) {
	var s Snapshot
	if err := DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestUnusedSnapshot returns the most recent snapshot for a target that has
// not been consumed by a rollback yet.
func LatestUnusedSnapshot(targetID uint) (*Snapshot, error) {
	var s Snapshot
	err := DB.Where("target_id = ? AND consumed = ?", targetID, false).
		Order("created_at DESC, id DESC").First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func ListSnapshots(targetID uint) ([]Snapshot, error) {
	var snaps []Snapshot
	if err := DB.Where("target_id = ?", targetID).Order("created_at DESC, id DESC").Find(&snaps).Error; err != nil {
		return nil, err
	}
	return snaps, nil
}

// MarkSnapshotConsumed flags a snapshot as used by a rollback so it is never
// reused. Callers set this after a rollback regardless of its outcome.
func MarkSnapshotConsumed(id uint) error {
	return DB.Model(&Snapshot{}).Where("id = ?", id).Update("consumed", true).Error
}

// PruneSnapshots deletes all but the keep most recent snapshot records for a
// target.
func PruneSnapshots(targetID uint, keep int) error {
	if keep < 0 {
		keep = 0
	}
	sub := DB.Model(&Snapshot{}).Select("id").
		Where("target_id = ?", targetID).
		Order("created_at DESC, id DESC").Limit(keep)
	return DB.Where("target_id = ? AND id NOT IN (?)", targetID, sub).Delete(&Snapshot{}).Error
}
