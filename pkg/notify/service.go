package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/assinado-app/assinado/pkg/config"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/tenants"
)

// SettingsSource resolves per-tenant notification settings. A nil
// result (with nil error) means no override exists.
type SettingsSource interface {
	Get(ctx context.Context, tenantID string) (*tenants.Settings, error)
}

// Service routes messages to Resend and Z-API, preferring per-tenant
// credentials when the tenant activated a channel with complete
// credentials.
type Service struct {
	resend   *ResendClient
	zapi     *ZapiClient
	settings SettingsSource
	logger   *slog.Logger

	resendKey string
	zapiCreds ZapiCredentials
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithResendBaseURL points the email client elsewhere, for tests.
func WithResendBaseURL(baseURL string) ServiceOption {
	return func(s *Service) { s.resend = NewResendClient(s.resend.from, baseURL) }
}

// WithZapiBaseURL points the WhatsApp client elsewhere, for tests.
func WithZapiBaseURL(baseURL string) ServiceOption {
	return func(s *Service) { s.zapi = NewZapiClient(baseURL) }
}

func NewService(cfg *config.Config, settings SettingsSource, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		resend:    NewResendClient(cfg.ResendFromEmail, ""),
		zapi:      NewZapiClient(""),
		settings:  settings,
		logger:    logger,
		resendKey: cfg.ResendAPIKey,
		zapiCreds: ZapiCredentials{
			InstanceID:  cfg.ZapiInstanceID,
			Token:       cfg.ZapiToken,
			ClientToken: cfg.ZapiClientToken,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tenantSettings returns the override row or nil.
func (s *Service) tenantSettings(ctx context.Context, tenantID string) *tenants.Settings {
	if s.settings == nil || tenantID == "" {
		return nil
	}
	settings, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		s.logger.Warn("failed to load tenant notification settings", "tenantId", tenantID, "error", err)
		return nil
	}
	return settings
}

// SendEmail delivers through the tenant's Resend key when active, else
// the process-wide one.
func (s *Service) SendEmail(ctx context.Context, tenantID string, msg EmailMessage) error {
	apiKey := s.resendKey
	if settings := s.tenantSettings(ctx, tenantID); settings != nil && settings.ResendActive && settings.ResendAPIKey != "" {
		apiKey = settings.ResendAPIKey
	}
	if apiKey == "" {
		return fmt.Errorf("notify: no resend credentials for tenant %s", tenantID)
	}
	return s.resend.Send(ctx, apiKey, msg)
}

// SendWhatsAppText delivers through the tenant's Z-API instance when
// active, else the process-wide one. The phone is normalized here.
func (s *Service) SendWhatsAppText(ctx context.Context, tenantID string, msg WhatsAppMessage) error {
	creds := s.zapiCreds
	if settings := s.tenantSettings(ctx, tenantID); settings != nil && settings.ZapiActive {
		override := ZapiCredentials{
			InstanceID:  settings.ZapiInstanceID,
			Token:       settings.ZapiToken,
			ClientToken: settings.ZapiClientToken,
		}
		if override.Complete() {
			creds = override
		}
	}
	if !creds.Complete() {
		return fmt.Errorf("notify: no zapi credentials for tenant %s", tenantID)
	}
	msg.Phone = NormalizePhone(msg.Phone)
	return s.zapi.SendText(ctx, creds, msg)
}

// SendInvite delivers the member-onboarding email.
func (s *Service) SendInvite(ctx context.Context, tenantID, email, tenantName, link string) error {
	return s.SendEmail(ctx, tenantID, EmailMessage{
		To:      email,
		Subject: fmt.Sprintf("Convite para a equipe %s", tenantName),
		HTML: fmt.Sprintf(
			`<p>Você foi convidado para a equipe <strong>%s</strong>.</p><p><a href="%s">Aceitar convite</a></p>`,
			tenantName, link),
	})
}

// SendPasswordResetCode delivers a reset code on the requested channel.
// The code is never logged.
func (s *Service) SendPasswordResetCode(ctx context.Context, tenantID string, channel identity.Channel, recipient, code string) error {
	if channel == identity.ChannelWhatsApp {
		return s.SendWhatsAppText(ctx, tenantID, WhatsAppMessage{
			Phone:   recipient,
			Message: fmt.Sprintf("Seu código de redefinição de senha é %s. Ele expira em 15 minutos.", code),
		})
	}
	return s.SendEmail(ctx, tenantID, EmailMessage{
		To:      recipient,
		Subject: "Redefinição de senha",
		HTML:    fmt.Sprintf("<p>Seu código de redefinição de senha é <strong>%s</strong>. Ele expira em 15 minutos.</p>", code),
	})
}

var (
	_ Sender                 = (*Service)(nil)
	_ tenants.InviteNotifier = (*Service)(nil)
	_ identity.ResetNotifier = (*Service)(nil)
)
