package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/fleetup.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/fleetup.log"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`

	// Managed service settings
	ServiceName    string   `envconfig:"SERVICE_NAME" default:"n8n"`
	ImageRepo      string   `envconfig:"IMAGE_REPO" default:"n8nio/n8n"`
	ImageMirrors   []string `envconfig:"IMAGE_MIRRORS" default:"docker.n8n.io/"`
	VersionCommand string   `envconfig:"VERSION_COMMAND" default:"n8n --version"`
	DataDirs       []string `envconfig:"DATA_DIRS" default:".n8n,n8n_data,data"`

	// Registry and release settings
	RegistryURL      string `envconfig:"REGISTRY_URL" default:"https://hub.docker.com"`
	ReleaseRepo      string `envconfig:"RELEASE_REPO" default:"n8n-io/n8n"`
	ReleaseTagPrefix string `envconfig:"RELEASE_TAG_PREFIX" default:"n8n@"`

	// Workflow settings
	SettleWaitSeconds int `envconfig:"SETTLE_WAIT_SECONDS" default:"10"`
	BackupKeepCount   int `envconfig:"BACKUP_KEEP_COUNT" default:"3"`

	// Monitoring settings
	HealthCheckInterval string `envconfig:"HEALTH_CHECK_INTERVAL" default:"5m"`
	VersionCheckHours   int    `envconfig:"VERSION_CHECK_HOURS" default:"6"`
	FailureThreshold    int    `envconfig:"FAILURE_THRESHOLD" default:"2"`

	// Notification settings
	WebhookURL string `envconfig:"WEBHOOK_URL" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("FLEETUP", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
