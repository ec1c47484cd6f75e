package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// UpsertHealthState writes the latest check outcome for a target, maintaining
// the consecutive-failure counter and the notified flag:
//
//   - healthy: counter resets to 0, notified resets to false, last_healthy
//     advances, error clears
//   - unhealthy: counter increments, notified is left as-is so an external
//     notifier can deduplicate alerts
//
// It returns the stored state and whether the previous stored verdict (if
// any) was healthy, so callers can detect transitions.
func UpsertHealthState(state *HealthState) (*HealthState, bool, error) {
	now := time.Now()
	state.LastCheck = now

	var prev HealthState
	err := DB.Where("target_id = ?", state.TargetID).First(&prev).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if state.Healthy {
			state.ConsecutiveFailures = 0
			state.Notified = false
			state.LastHealthy = &now
			state.Error = ""
		} else {
			state.ConsecutiveFailures = 1
		}
		if err := DB.Create(state).Error; err != nil {
			return nil, false, err
		}
		return state, true, nil
	case err != nil:
		return nil, false, err
	}

	if state.Healthy {
		state.ConsecutiveFailures = 0
		state.Notified = false
		state.LastHealthy = &now
		state.Error = ""
	} else {
		state.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		state.Notified = prev.Notified
		state.LastHealthy = prev.LastHealthy
	}

	if err := DB.Save(state).Error; err != nil {
		return nil, false, err
	}
	return state, prev.Healthy, nil
}

func GetHealthState(targetID uint) (*HealthState, error) {
	var s HealthState
	if err := DB.Where("target_id = ?", targetID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func ListHealthStates() ([]HealthState, error) {
	var states []HealthState
	if err := DB.Order("target_name").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// UnhealthyNeedingNotice returns targets whose failure streak has reached
// minFailures and that have not been notified about yet.
func UnhealthyNeedingNotice(minFailures int) ([]HealthState, error) {
	var states []HealthState
	err := DB.Where("healthy = ? AND consecutive_failures >= ? AND notified = ?", false, minFailures, false).
		Find(&states).Error
	return states, err
}

func MarkNotified(targetID uint) error {
	return DB.Model(&HealthState{}).Where("target_id = ?", targetID).Update("notified", true).Error
}
