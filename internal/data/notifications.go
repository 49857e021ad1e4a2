package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Notification event kinds and delivery channels. The channel settings map is
// closed: every kind has a known schema (no dynamic JSON beyond this).
const (
	EventSpeciesDetection = "species_detection"
	EventBatteryDigest    = "battery_digest"
	EventEmailReport      = "email_report"
	EventSystemHealth     = "system_health"

	ChannelTelegram = "telegram"
	ChannelSignal   = "signal"
	ChannelEmail    = "email"
)

const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

var (
	ErrPreferenceNotFound    = errors.New("notification preference not found")
	ErrLinkTokenNotFound     = errors.New("telegram linking token not found")
	ErrLinkTokenConsumed     = errors.New("telegram linking token already used or expired")
	ErrTelegramNotConfigured = errors.New("telegram bot not configured")
)

type SpeciesDetectionSettings struct {
	Enabled  bool     `json:"enabled"`
	Channels []string `json:"channels"`
	Species  []string `json:"species,omitempty"` // allowlist; empty means all
}

type BatteryDigestSettings struct {
	Enabled   bool     `json:"enabled"`
	Channels  []string `json:"channels"`
	Threshold float64  `json:"threshold"` // battery percent, default 30
}

type EmailReportSettings struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"` // daily, weekly, monthly
}

type SystemHealthSettings struct {
	Enabled     bool     `json:"enabled"`
	Channels    []string `json:"channels"`
	MinSeverity string   `json:"min_severity"` // warning, critical
}

// ChannelSettings is the authoritative per-(user,project) notification
// configuration stored as one jsonb column.
type ChannelSettings struct {
	SpeciesDetection SpeciesDetectionSettings `json:"species_detection"`
	BatteryDigest    BatteryDigestSettings    `json:"battery_digest"`
	EmailReport      EmailReportSettings      `json:"email_report"`
	SystemHealth     SystemHealthSettings     `json:"system_health"`
}

type Preference struct {
	ID             int64           `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	ProjectID      uuid.UUID       `json:"project_id"`
	Enabled        bool            `json:"enabled"`
	TelegramChatID *int64          `json:"telegram_chat_id,omitempty"`
	SignalPhone    *string         `json:"signal_phone,omitempty"`
	Channels       ChannelSettings `json:"channels"`

	// Joined from users for rule evaluation; not persisted here.
	UserEmail         string `json:"-"`
	UserIsServerAdmin bool   `json:"-"`
}

type PreferenceModel struct {
	DB DBTX
}

const preferenceJoinQuery = `
	SELECT p.id, p.user_id, p.project_id, p.enabled, p.telegram_chat_id, p.signal_phone, p.channels,
	       u.email, u.is_server_admin
	FROM notification_preferences p
	JOIN users u ON u.id = p.user_id
	WHERE u.is_active AND u.is_verified`

func (m PreferenceModel) scan(rows *sql.Rows) (*Preference, error) {
	var p Preference
	var channelsRaw []byte
	if err := rows.Scan(
		&p.ID, &p.UserID, &p.ProjectID, &p.Enabled, &p.TelegramChatID, &p.SignalPhone, &channelsRaw,
		&p.UserEmail, &p.UserIsServerAdmin,
	); err != nil {
		return nil, err
	}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &p.Channels); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// ListEnabledForProject returns preference rows of active, verified users in
// a project with the row-level enabled flag set. Kind-level gating happens in
// the notification router against the typed settings.
func (m PreferenceModel) ListEnabledForProject(ctx context.Context, projectID uuid.UUID) ([]*Preference, error) {
	rows, err := m.DB.QueryContext(ctx,
		preferenceJoinQuery+` AND p.project_id = $1 AND p.enabled`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Preference
	for rows.Next() {
		p, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAllEnabled returns every enabled preference row across projects, for
// the scheduled digest and report jobs.
func (m PreferenceModel) ListAllEnabled(ctx context.Context) ([]*Preference, error) {
	rows, err := m.DB.QueryContext(ctx, preferenceJoinQuery+` AND p.enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Preference
	for rows.Next() {
		p, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m PreferenceModel) Get(ctx context.Context, userID, projectID uuid.UUID) (*Preference, error) {
	rows, err := m.DB.QueryContext(ctx,
		preferenceJoinQuery+` AND p.user_id = $1 AND p.project_id = $2`, userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrPreferenceNotFound
	}
	return m.scan(rows)
}

func (m PreferenceModel) Upsert(ctx context.Context, p *Preference) error {
	channelsRaw, err := json.Marshal(p.Channels)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO notification_preferences (user_id, project_id, enabled, telegram_chat_id, signal_phone, channels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, project_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    telegram_chat_id = EXCLUDED.telegram_chat_id,
		    signal_phone = EXCLUDED.signal_phone,
		    channels = EXCLUDED.channels
		RETURNING id`
	return m.DB.QueryRowContext(ctx, query,
		p.UserID, p.ProjectID, p.Enabled, p.TelegramChatID, p.SignalPhone, channelsRaw,
	).Scan(&p.ID)
}

// SetTelegramChatID binds a chat to the preference row once the user has
// /start-ed the bot with a valid linking token.
func (m PreferenceModel) SetTelegramChatID(ctx context.Context, userID, projectID uuid.UUID, chatID int64) error {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE notification_preferences SET telegram_chat_id = $1
		WHERE user_id = $2 AND project_id = $3`, chatID, userID, projectID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrPreferenceNotFound
	}
	return nil
}

// NotificationLog is the append-only delivery record.
type NotificationLog struct {
	ID               int64      `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	NotificationType string     `json:"notification_type"`
	Channel          string     `json:"channel"`
	Status           string     `json:"status"`
	Event            []byte     `json:"event,omitempty"` // trigger payload, opaque
	Message          string     `json:"message"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}

type NotificationLogModel struct {
	DB DBTX
}

func (m NotificationLogModel) Create(ctx context.Context, l *NotificationLog) error {
	query := `
		INSERT INTO notification_logs (user_id, notification_type, channel, status, event, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query,
		l.UserID, l.NotificationType, l.Channel, NotificationStatusPending, l.Event, l.Message,
	).Scan(&l.ID, &l.CreatedAt)
}

func (m NotificationLogModel) MarkSent(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE notification_logs SET status = $1, sent_at = NOW() WHERE id = $2`,
		NotificationStatusSent, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m NotificationLogModel) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE notification_logs SET status = $1, error_message = $2 WHERE id = $3`,
		NotificationStatusFailed, errMsg, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// TelegramModel covers the ephemeral linking tokens and the singleton bot
// credential row.
type TelegramModel struct {
	DB DBTX
}

type TelegramLinkToken struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

func (m TelegramModel) CreateLinkToken(ctx context.Context, userID, projectID uuid.UUID, ttl time.Duration) (*TelegramLinkToken, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	t := &TelegramLinkToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		ProjectID: projectID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO telegram_linking_tokens (token, user_id, project_id, expires_at)
		VALUES ($1, $2, $3, $4)`, t.Token, t.UserID, t.ProjectID, t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ConsumeLinkToken atomically claims an unused, unexpired token.
func (m TelegramModel) ConsumeLinkToken(ctx context.Context, token string) (*TelegramLinkToken, error) {
	query := `
		UPDATE telegram_linking_tokens
		SET used = TRUE
		WHERE token = $1 AND NOT used AND expires_at > NOW()
		RETURNING token, user_id, project_id, expires_at`
	var t TelegramLinkToken
	err := m.DB.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.UserID, &t.ProjectID, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrLinkTokenConsumed
	}
	if err != nil {
		return nil, err
	}
	t.Used = true
	return &t, nil
}

func (m TelegramModel) GetBotToken(ctx context.Context) (string, error) {
	var token string
	err := m.DB.QueryRowContext(ctx, `SELECT bot_token FROM telegram_config LIMIT 1`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", ErrTelegramNotConfigured
	}
	return token, err
}

func (m TelegramModel) SetBotToken(ctx context.Context, token string) error {
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO telegram_config (id, bot_token) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET bot_token = EXCLUDED.bot_token`, token)
	return err
}
