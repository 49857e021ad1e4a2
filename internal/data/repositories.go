package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles every model over one handle so process mains wire a single value.
type Models struct {
	Projects        ProjectModel
	Cameras         CameraModel
	Deployments     DeploymentModel
	Images          ImageModel
	Detections      DetectionModel
	Classifications ClassificationModel
	Observations    ObservationModel
	Users           UserModel
	Invitations     InvitationModel
	Memberships     MembershipModel
	Preferences     PreferenceModel
	NotificationLog NotificationLogModel
	Telegram        TelegramModel
	Stats           StatsModel
}

func NewModels(db DBTX) Models {
	return Models{
		Projects:        ProjectModel{DB: db},
		Cameras:         CameraModel{DB: db},
		Deployments:     DeploymentModel{DB: db},
		Images:          ImageModel{DB: db},
		Detections:      DetectionModel{DB: db},
		Classifications: ClassificationModel{DB: db},
		Observations:    ObservationModel{DB: db},
		Users:           UserModel{DB: db},
		Invitations:     InvitationModel{DB: db},
		Memberships:     MembershipModel{DB: db},
		Preferences:     PreferenceModel{DB: db},
		NotificationLog: NotificationLogModel{DB: db},
		Telegram:        TelegramModel{DB: db},
		Stats:           StatsModel{DB: db},
	}
}
