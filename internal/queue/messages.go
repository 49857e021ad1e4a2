package queue

import "time"

// Wire schemas for every queue. Each pipeline stage owns its schema; fields
// are all present unless tagged omitempty.

type ImageIngested struct {
	ImageUUID   string `json:"image_uuid"`
	StoragePath string `json:"storage_path"`
	CameraID    string `json:"camera_id"`
}

type DetectionComplete struct {
	ImageUUID     string  `json:"image_uuid"`
	NumDetections int     `json:"num_detections"`
	DetectionIDs  []int64 `json:"detection_ids"`
}

type ClassificationComplete struct {
	ImageUUID         string  `json:"image_uuid"`
	NumClassifications int    `json:"num_classifications"`
	ClassificationIDs []int64 `json:"classification_ids"`
}

type ClassificationReprocess struct {
	ImageUUID       string   `json:"image_uuid"`
	ProjectID       string   `json:"project_id"`
	ExcludedSpecies []string `json:"excluded_species"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NotificationEvent is the species_detection event shape. Confidence fields
// are pointers: a missing confidence must drop the event in the router, not
// default to zero.
type NotificationEvent struct {
	EventType           string    `json:"event_type"`
	ProjectID           string    `json:"project_id"`
	ImageUUID           string    `json:"image_uuid"`
	CameraID            string    `json:"camera_id"`
	CameraName          string    `json:"camera_name"`
	CameraLocation      *LatLon   `json:"camera_location"`
	Species             string    `json:"species,omitempty"`
	Confidence          *float64  `json:"confidence"`
	DetectionConfidence *float64  `json:"detection_confidence"`
	DetectionCount      int       `json:"detection_count"`
	AnnotatedMinioPath  *string   `json:"annotated_minio_path"`
	Severity            string    `json:"severity,omitempty"` // system_health only
	Timestamp           time.Time `json:"timestamp"`
}

type TelegramMessage struct {
	NotificationLogID int64   `json:"notification_log_id"`
	ChatID            int64   `json:"chat_id"`
	MessageText       string  `json:"message_text"`
	AttachmentURL     *string `json:"attachment_url"`
	ReplyMarkup       *string `json:"reply_markup"`
}

type SignalMessage struct {
	NotificationLogID int64   `json:"notification_log_id"`
	RecipientPhone    string  `json:"recipient_phone"`
	MessageText       string  `json:"message_text"`
	AttachmentURL     *string `json:"attachment_url"`
}

type EmailMessage struct {
	NotificationLogID int64   `json:"notification_log_id"`
	ToEmail           string  `json:"to_email"`
	Subject           string  `json:"subject"`
	BodyText          string  `json:"body_text"`
	BodyHTML          *string `json:"body_html"`
}

type DeadLetterMessage struct {
	Queue    string    `json:"queue"`
	Reason   string    `json:"reason"`
	Payload  []byte    `json:"payload"`
	FailedAt time.Time `json:"failed_at"`
}
