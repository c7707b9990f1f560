package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/assinado-app/assinado/pkg/store"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS tenant_settings (
	tenant_id            TEXT PRIMARY KEY,
	app_name             TEXT NOT NULL DEFAULT '',
	primary_color        TEXT NOT NULL DEFAULT '',
	logo_url             TEXT NOT NULL DEFAULT '',
	zapi_instance_id     TEXT NOT NULL DEFAULT '',
	zapi_token           TEXT NOT NULL DEFAULT '',
	zapi_client_token    TEXT NOT NULL DEFAULT '',
	zapi_active          INTEGER NOT NULL DEFAULT 0,
	resend_api_key       TEXT NOT NULL DEFAULT '',
	resend_active        INTEGER NOT NULL DEFAULT 0,
	final_email_template TEXT NOT NULL DEFAULT ''
);
`

// SettingsStore persists per-tenant notification and branding settings.
type SettingsStore struct {
	db *store.DB
}

func NewSettingsStore(db *store.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, settingsSchema); err != nil {
		return fmt.Errorf("tenants: failed to init settings schema: %w", err)
	}
	return nil
}

// Get returns the tenant's settings, or zero-valued defaults when the
// tenant never saved any.
func (s *SettingsStore) Get(ctx context.Context, tenantID string) (*Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, app_name, primary_color, logo_url,
			zapi_instance_id, zapi_token, zapi_client_token, zapi_active,
			resend_api_key, resend_active, final_email_template
		 FROM tenant_settings WHERE tenant_id = $1`, tenantID)

	var st Settings
	err := row.Scan(&st.TenantID, &st.AppName, &st.PrimaryColor, &st.LogoURL,
		&st.ZapiInstanceID, &st.ZapiToken, &st.ZapiClientToken, &st.ZapiActive,
		&st.ResendAPIKey, &st.ResendActive, &st.FinalEmailTemplate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Settings{TenantID: tenantID}, nil
		}
		return nil, fmt.Errorf("tenants: failed to read settings: %w", err)
	}
	return &st, nil
}

// Upsert saves the full settings row.
func (s *SettingsStore) Upsert(ctx context.Context, st *Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_settings (tenant_id, app_name, primary_color, logo_url,
			zapi_instance_id, zapi_token, zapi_client_token, zapi_active,
			resend_api_key, resend_active, final_email_template)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			app_name = excluded.app_name,
			primary_color = excluded.primary_color,
			logo_url = excluded.logo_url,
			zapi_instance_id = excluded.zapi_instance_id,
			zapi_token = excluded.zapi_token,
			zapi_client_token = excluded.zapi_client_token,
			zapi_active = excluded.zapi_active,
			resend_api_key = excluded.resend_api_key,
			resend_active = excluded.resend_active,
			final_email_template = excluded.final_email_template`,
		st.TenantID, st.AppName, st.PrimaryColor, st.LogoURL,
		st.ZapiInstanceID, st.ZapiToken, st.ZapiClientToken, st.ZapiActive,
		st.ResendAPIKey, st.ResendActive, st.FinalEmailTemplate)
	if err != nil {
		return fmt.Errorf("tenants: failed to save settings: %w", err)
	}
	return nil
}
