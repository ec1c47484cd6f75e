package database

import "time"

// AuthTypeKey and AuthTypePassword are the two credential kinds a target can
// carry. Exactly one of them is configured per target.
const (
	AuthTypeKey      = "key"
	AuthTypePassword = "password"
)

// Target is one managed remote host running the service under docker compose.
type Target struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Host        string    `gorm:"not null" json:"host"`
	Port        int       `gorm:"not null;default:22" json:"port"`
	User        string    `gorm:"not null;default:root" json:"user"`
	AuthType    string    `gorm:"not null;default:password" json:"auth_type"`
	KeyPath     string    `json:"key_path,omitempty"`
	Password    string    `json:"-"` // fernet-encrypted
	ComposePath string    `gorm:"not null" json:"compose_path"`
	URL         string    `json:"url,omitempty"` // externally reachable URL for HTTP liveness
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Snapshot is the metadata of a point-in-time backup taken on the target
// immediately before a mutating update. ConfigPath is mandatory for rollback;
// DataPath is best-effort and may be empty.
type Snapshot struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TargetID   uint      `gorm:"not null;index" json:"target_id"`
	TargetName string    `gorm:"not null" json:"target_name"`
	ConfigPath string    `gorm:"not null" json:"config_path"`
	DataPath   string    `json:"data_path,omitempty"`
	Version    string    `json:"version,omitempty"` // version in effect at capture time
	Consumed   bool      `gorm:"not null;default:false" json:"consumed"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// HealthState is the current monitoring verdict for a target. One row per
// target, overwritten in place on every check.
type HealthState struct {
	TargetID            uint       `gorm:"primaryKey" json:"target_id"`
	TargetName          string     `gorm:"not null" json:"target_name"`
	Healthy             bool       `gorm:"not null;default:false" json:"healthy"`
	ShellOK             bool       `gorm:"not null;default:false" json:"shell_ok"`
	ServiceRunning      bool       `gorm:"not null;default:false" json:"service_running"`
	URLReachable        *bool      `json:"url_reachable"` // nil when no URL is configured
	Version             string     `json:"version,omitempty"`
	Error               string     `json:"error,omitempty"`
	LastCheck           time.Time  `json:"last_check"`
	LastHealthy         *time.Time `json:"last_healthy,omitempty"`
	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	Notified            bool       `gorm:"not null;default:false" json:"notified"`
}

// History kinds.
const (
	HistoryUpdate   = "update"
	HistoryRollback = "rollback"
)

// HistoryEntry is an immutable append-only record of one completed update or
// rollback attempt.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TargetID   uint      `gorm:"index" json:"target_id"`
	TargetName string    `gorm:"not null" json:"target_name"`
	Kind       string    `gorm:"not null;default:update" json:"kind"`
	OldVersion string    `json:"old_version,omitempty"`
	NewVersion string    `json:"new_version,omitempty"`
	Success    bool      `gorm:"not null" json:"success"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
