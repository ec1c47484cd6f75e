package database

// AppendHistory records one completed update or rollback attempt. Entries are
// never mutated after creation.
func AppendHistory(e *HistoryEntry) error {
	return DB.Create(e).Error
}

// ListHistory returns the most recent history entries, newest first,
// optionally filtered to one target. targetID 0 means all targets.
func ListHistory(limit int, targetID uint) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := DB.Order("created_at DESC, id DESC").Limit(limit)
	if targetID != 0 {
		q = q.Where("target_id = ?", targetID)
	}
	var entries []HistoryEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
