package database

import (
	"errors"
	"fmt"
)

// ErrCredentialConflict is returned when a target does not carry exactly one
// credential kind.
var ErrCredentialConflict = errors.New("exactly one of key_path or password must be set")

// ValidateCredentials enforces the one-credential invariant for a target.
func (t *Target) ValidateCredentials() error {
	switch t.AuthType {
	case AuthTypeKey:
		if t.KeyPath == "" || t.Password != "" {
			return ErrCredentialConflict
		}
	case AuthTypePassword:
		if t.Password == "" || t.KeyPath != "" {
			return ErrCredentialConflict
		}
	default:
		return fmt.Errorf("unknown auth type %q", t.AuthType)
	}
	return nil
}

func CreateTarget(t *Target) error {
	if err := t.ValidateCredentials(); err != nil {
		return err
	}
	return DB.Create(t).Error
}

func GetTarget(id uint) (*Target, error) {
	var t Target
	if err := DB.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func GetTargetByName(name string) (*Target, error) {
	var t Target
	if err := DB.Where("name = ?", name).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func ListTargets() ([]Target, error) {
	var targets []Target
	if err := DB.Order("name").Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

func UpdateTarget(t *Target) error {
	if t.ID == 0 {
		return errors.New("target has no ID")
	}
	if err := t.ValidateCredentials(); err != nil {
		return err
	}
	return DB.Save(t).Error
}

// DeleteTarget removes a target and its health state. Snapshots and history
// entries are kept as historical records referencing the now-absent ID.
func DeleteTarget(id uint) error {
	DB.Where("target_id = ?", id).Delete(&HealthState{})
	return DB.Delete(&Target{}, id).Error
}

func TargetCount() (int64, error) {
	var count int64
	err := DB.Model(&Target{}).Count(&count).Error
	return count, err
}
