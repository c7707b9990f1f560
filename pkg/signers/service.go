package signers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/blob"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/notify"
	"github.com/assinado-app/assinado/pkg/stamp"
	"github.com/assinado-app/assinado/pkg/store"
)

const (
	// defaultTokenTTL bounds share links on documents without a deadline.
	defaultTokenTTL = 30 * 24 * time.Hour
	signingOTPTTL   = 10 * time.Minute
	deliveryTimeout = 15 * time.Second
	cpfDigits       = 11
)

// Session is a resolved share token: the (document, signer, token)
// triple every signer-facing operation works on.
type Session struct {
	Document *documents.Document
	Signer   *Signer
	Token    *ShareToken
}

// Summary is what the signing page shows after resolving a link.
type Summary struct {
	Document *documents.Document `json:"document"`
	Signer   *Signer             `json:"signer"`
	Signers  []*Signer           `json:"signers"`
}

// Service implements invites, token resolution and the OTP challenge.
type Service struct {
	db       *store.DB
	signers  *Store
	tokens   *TokenStore
	docs     *documents.Store
	blobs    blob.Store
	otps     *identity.OTPStore
	chain    *audit.Chain
	sender   notify.Sender
	logger   *slog.Logger
	frontURL string
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(db *store.DB, signerStore *Store, tokens *TokenStore,
	docs *documents.Store, blobs blob.Store, otps *identity.OTPStore,
	chain *audit.Chain, sender notify.Sender, logger *slog.Logger,
	frontURL string, opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		signers:  signerStore,
		tokens:   tokens,
		docs:     docs,
		blobs:    blobs,
		otps:     otps,
		chain:    chain,
		sender:   sender,
		logger:   logger,
		frontURL: frontURL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type invitation struct {
	signer *Signer
	raw    string
}

// InviteSigners creates the signers, mints one share token each and
// requests link delivery per auth channel. Tokens expire with the
// document deadline, or after thirty days without one. The raw token
// exists only in the delivery message.
func (s *Service) InviteSigners(ctx context.Context, principal *auth.Principal,
	documentID string, inputs []InviteInput, message string) ([]*Signer, error) {
	if len(inputs) == 0 {
		return nil, ErrNoSigners
	}
	doc, err := s.docs.GetForTenant(ctx, principal.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Pending() {
		return nil, ErrDocumentNotPending
	}
	for _, in := range inputs {
		if in.Name == "" || in.Email == "" {
			return nil, ErrMissingContact
		}
		if in.CPF != "" && len(digitsOf(in.CPF)) != cpfDigits {
			return nil, ErrInvalidCpf
		}
	}

	now := s.now().UTC()
	expiresAt := now.Add(defaultTokenTTL)
	if doc.DeadlineAt != nil {
		expiresAt = *doc.DeadlineAt
	}

	invitations := make([]invitation, 0, len(inputs))
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for i, in := range inputs {
			order := in.Order
			if order == 0 {
				order = i + 1
			}
			sg := &Signer{
				DocumentID:    doc.ID,
				Name:          in.Name,
				Email:         in.Email,
				CPF:           digitsOf(in.CPF),
				Phone:         in.Phone,
				Qualification: in.Qualification,
				AuthChannels:  in.AuthChannels,
				Order:         order,
				Status:        StatusPending,
				CreatedAt:     now,
			}
			if err := s.signers.Create(ctx, tx, sg); err != nil {
				return err
			}
			raw, tokenHash, err := crypto.MintShareToken()
			if err != nil {
				return err
			}
			if err := s.tokens.Create(ctx, tx, &ShareToken{
				DocumentID: doc.ID,
				SignerID:   sg.ID,
				TokenHash:  tokenHash,
				ExpiresAt:  expiresAt,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			if _, err := s.chain.Append(ctx, tx, audit.Input{
				TenantID:   doc.TenantID,
				ActorKind:  audit.ActorUser,
				ActorID:    principal.ID,
				EntityType: audit.EntityDocument,
				EntityID:   doc.ID,
				Action:     audit.ActionMemberInvited,
				Payload: map[string]any{
					"signerName": sg.Name,
					"email":      sg.Email,
					"order":      sg.Order,
				},
			}); err != nil {
				return err
			}
			invitations = append(invitations, invitation{signer: sg, raw: raw})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Signer, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, inv.signer)
		s.deliverInvite(doc, inv, message)
	}
	return out, nil
}

// deliverInvite fans the signing link out per channel, fire-and-forget.
func (s *Service) deliverInvite(doc *documents.Document, inv invitation, message string) {
	link := s.frontURL + "/sign/" + inv.raw
	signer := inv.signer
	for _, channel := range authChannelsOrDefault(signer.AuthChannels) {
		go func(channel Channel) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			var err error
			switch channel {
			case ChannelEmail:
				err = s.sender.SendEmail(ctx, doc.TenantID, notify.EmailMessage{
					To:      signer.Email,
					Subject: fmt.Sprintf("Assinatura pendente: %s", doc.Title),
					HTML:    inviteEmailBody(signer.Name, doc.Title, link, message),
				})
			case ChannelWhatsApp, ChannelSMS:
				if signer.Phone == "" {
					s.logger.Warn("signer invite skipped, no phone",
						"channel", string(channel), "signerId", signer.ID)
					return
				}
				err = s.sender.SendWhatsAppText(ctx, doc.TenantID, notify.WhatsAppMessage{
					Phone:   signer.Phone,
					Message: inviteTextBody(signer.Name, doc.Title, link, message),
				})
			default:
				s.logger.Warn("signer invite skipped, unknown channel",
					"channel", string(channel), "signerId", signer.ID)
				return
			}
			if err != nil {
				s.logger.Warn("signer invite delivery failed",
					"channel", string(channel), "signerId", signer.ID, "error", err)
			}
		}(channel)
	}
}

func inviteEmailBody(name, title, link, message string) string {
	body := fmt.Sprintf(
		"<p>Olá %s,</p><p>Você foi convidado a assinar o documento <strong>%s</strong>.</p>",
		name, title)
	if message != "" {
		body += fmt.Sprintf("<p>%s</p>", message)
	}
	body += fmt.Sprintf(`<p><a href="%s">Assinar documento</a></p>`, link)
	return body
}

func inviteTextBody(name, title, link, message string) string {
	body := fmt.Sprintf("Olá %s, você foi convidado a assinar o documento %q.", name, title)
	if message != "" {
		body += " " + message
	}
	return body + " Acesse: " + link
}

func authChannelsOrDefault(channels []Channel) []Channel {
	if len(channels) == 0 {
		return []Channel{ChannelEmail}
	}
	return channels
}

// ResolveToken authorizes a raw link token: hash lookup, expiry check,
// and both lifecycles must still accept access. Each success counts one
// use.
func (s *Service) ResolveToken(ctx context.Context, raw string) (*Session, error) {
	token, err := s.tokens.FindByHash(ctx, crypto.HashToken(raw))
	if err != nil {
		return nil, err
	}
	if s.now().UTC().After(token.ExpiresAt) {
		return nil, ErrExpiredLink
	}
	signer, err := s.signers.GetByID(ctx, token.SignerID)
	if err != nil {
		return nil, err
	}
	if signer.Status.Closed() {
		return nil, ErrLinkClosed
	}
	doc, err := s.docs.GetByID(ctx, token.DocumentID)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case documents.StatusCancelled, documents.StatusExpired, documents.StatusSigned:
		return nil, ErrLinkClosed
	}
	if err := s.tokens.IncrementUse(ctx, token.ID); err != nil {
		return nil, err
	}
	token.TimesUsed++
	return &Session{Document: doc, Signer: signer, Token: token}, nil
}

// Summary returns the signing-page view. The first visit of a PENDING
// signer flips it to VIEWED and records the view on the document chain.
func (s *Service) Summary(ctx context.Context, sess *Session, ip, userAgent string) (*Summary, error) {
	if sess.Signer.Status == StatusPending {
		err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			if err := s.signers.SetStatus(ctx, tx, sess.Signer.ID, StatusViewed); err != nil {
				return err
			}
			_, err := s.chain.Append(ctx, tx, audit.Input{
				TenantID:   sess.Document.TenantID,
				ActorKind:  audit.ActorSigner,
				ActorID:    sess.Signer.ID,
				EntityType: audit.EntityDocument,
				EntityID:   sess.Document.ID,
				Action:     audit.ActionViewed,
				IP:         ip,
				UserAgent:  userAgent,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		sess.Signer.Status = StatusViewed
	}
	all, err := s.signers.ListByDocument(ctx, s.db, sess.Document.ID)
	if err != nil {
		return nil, err
	}
	return &Summary{Document: sess.Document, Signer: sess.Signer, Signers: all}, nil
}

// Identify stores the signer's self-reported cpf and phone.
func (s *Service) Identify(ctx context.Context, sess *Session, cpf, phone string) error {
	cpf = digitsOf(cpf)
	if cpf != "" && len(cpf) != cpfDigits {
		return ErrInvalidCpf
	}
	if cpf == "" {
		cpf = sess.Signer.CPF
	}
	if phone == "" {
		phone = sess.Signer.Phone
	}
	if err := s.signers.UpdateIdentity(ctx, sess.Signer.ID, cpf, phone); err != nil {
		return err
	}
	sess.Signer.CPF = cpf
	sess.Signer.Phone = phone
	return nil
}

// StartOTP mints one code per auth channel (EMAIL when none is set),
// stores only its hash and requests delivery without waiting for it.
// Each send is recorded with the recipient masked.
func (s *Service) StartOTP(ctx context.Context, sess *Session, ip, userAgent string) error {
	signer := sess.Signer
	now := s.now().UTC()
	sent := 0
	for _, channel := range authChannelsOrDefault(signer.AuthChannels) {
		var recipient string
		switch channel {
		case ChannelEmail:
			recipient = signer.Email
		case ChannelWhatsApp, ChannelSMS:
			recipient = notify.NormalizePhone(signer.Phone)
		}
		if recipient == "" {
			s.logger.Warn("otp channel skipped, no recipient",
				"channel", string(channel), "signerId", signer.ID)
			continue
		}

		code, err := crypto.MintOTP()
		if err != nil {
			return err
		}
		codeHash, err := crypto.HashPassword(code)
		if err != nil {
			return err
		}
		if err := s.otps.Create(ctx, &identity.OTPCode{
			Context:   identity.OTPSigning,
			Recipient: recipient,
			CodeHash:  codeHash,
			ExpiresAt: now.Add(signingOTPTTL),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := s.chain.AppendTx(ctx, audit.Input{
			TenantID:   sess.Document.TenantID,
			ActorKind:  audit.ActorSigner,
			ActorID:    signer.ID,
			EntityType: audit.EntityDocument,
			EntityID:   sess.Document.ID,
			Action:     audit.ActionOtpSent,
			IP:         ip,
			UserAgent:  userAgent,
			Payload: map[string]any{
				"channel":   string(channel),
				"recipient": notify.MaskRecipient(recipient),
			},
		}); err != nil {
			return err
		}
		s.deliverCode(sess.Document, signer, channel, recipient, code)
		sent++
	}
	if sent == 0 {
		return ErrNoRecipient
	}
	return nil
}

// deliverCode sends one code out-of-band, fire-and-forget. The code is
// never logged.
func (s *Service) deliverCode(doc *documents.Document, signer *Signer, channel Channel, recipient, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		var err error
		switch channel {
		case ChannelEmail:
			err = s.sender.SendEmail(ctx, doc.TenantID, notify.EmailMessage{
				To:      recipient,
				Subject: "Seu código de verificação",
				HTML: fmt.Sprintf("<p>Use o código <strong>%s</strong> para assinar %q. Válido por 10 minutos.</p>",
					code, doc.Title),
			})
		case ChannelWhatsApp, ChannelSMS:
			err = s.sender.SendWhatsAppText(ctx, doc.TenantID, notify.WhatsAppMessage{
				Phone:   recipient,
				Message: fmt.Sprintf("Seu código para assinar %q é %s. Válido por 10 minutos.", doc.Title, code),
			})
		}
		if err != nil {
			s.logger.Warn("otp delivery failed",
				"channel", string(channel), "signerId", signer.ID, "error", err)
		}
	}()
}

// VerifyOTP redeems the most recent signing code addressed to the
// signer. Success destroys the row in the same transaction as the
// verification event; a replay therefore sees an expired code.
func (s *Service) VerifyOTP(ctx context.Context, sess *Session, submitted, ip, userAgent string) error {
	signer := sess.Signer
	recipients := []string{signer.Email, notify.NormalizePhone(signer.Phone)}
	otp, err := s.otps.FindLatest(ctx, identity.OTPSigning, recipients)
	if err != nil {
		if errors.Is(err, identity.ErrOtpExpired) {
			s.auditOtpFailure(ctx, sess, ip, userAgent, "not_found")
			return identity.ErrOtpExpired
		}
		return err
	}
	if otp.Expired(s.now().UTC()) {
		s.auditOtpFailure(ctx, sess, ip, userAgent, "expired")
		return identity.ErrOtpExpired
	}
	if !crypto.CheckPassword(submitted, otp.CodeHash) {
		if err := s.otps.IncrementAttempts(ctx, otp.ID); err != nil {
			s.logger.Warn("failed to count otp attempt", "error", err)
		}
		s.auditOtpFailure(ctx, sess, ip, userAgent, "mismatch")
		return identity.ErrOtpInvalid
	}
	return store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.chain.Append(ctx, tx, audit.Input{
			TenantID:   sess.Document.TenantID,
			ActorKind:  audit.ActorSigner,
			ActorID:    signer.ID,
			EntityType: audit.EntityDocument,
			EntityID:   sess.Document.ID,
			Action:     audit.ActionOtpVerified,
			IP:         ip,
			UserAgent:  userAgent,
		}); err != nil {
			return err
		}
		return s.otps.Delete(ctx, tx, otp.ID)
	})
}

func (s *Service) auditOtpFailure(ctx context.Context, sess *Session, ip, userAgent, reason string) {
	_, err := s.chain.AppendTx(ctx, audit.Input{
		TenantID:   sess.Document.TenantID,
		ActorKind:  audit.ActorSigner,
		ActorID:    sess.Signer.ID,
		EntityType: audit.EntityDocument,
		EntityID:   sess.Document.ID,
		Action:     audit.ActionOtpFailed,
		IP:         ip,
		UserAgent:  userAgent,
		Payload:    map[string]any{"reason": reason},
	})
	if err != nil {
		s.logger.Warn("failed to record otp failure", "error", err)
	}
}

// SavePosition stores the requested stamp placement. When the stored
// bytes parse as a PDF the page is bounded by the real page count.
func (s *Service) SavePosition(ctx context.Context, sess *Session, x, y float64, page int) error {
	if page < 1 {
		return ErrInvalidPosition
	}
	if data, err := s.blobs.Get(ctx, sess.Document.StorageKey); err == nil {
		if pages, err := stamp.Inspect(data); err == nil && page > pages {
			return ErrInvalidPosition
		}
	}
	if err := s.signers.SavePosition(ctx, sess.Signer.ID, x, y, page); err != nil {
		return err
	}
	sess.Signer.PositionX, sess.Signer.PositionY, sess.Signer.PositionPage = x, y, page
	return nil
}

// ConfirmArt stores the chosen signature rendering.
func (s *Service) ConfirmArt(ctx context.Context, sess *Session, art string) error {
	if err := s.signers.SaveArt(ctx, sess.Signer.ID, art); err != nil {
		return err
	}
	sess.Signer.SignatureArt = art
	return nil
}

// SignerInfos projects a document's signers for the public validator.
func (s *Service) SignerInfos(ctx context.Context, documentID string) ([]documents.SignerInfo, error) {
	all, err := s.signers.ListByDocument(ctx, s.db, documentID)
	if err != nil {
		return nil, err
	}
	infos := make([]documents.SignerInfo, 0, len(all))
	for _, sg := range all {
		infos = append(infos, documents.SignerInfo{
			Name:     sg.Name,
			Email:    sg.Email,
			Status:   string(sg.Status),
			SignedAt: sg.SignedAt,
		})
	}
	return infos, nil
}

// SendReminders re-invites every signer of the document still expected
// to sign. Old links may have leaked into mailboxes already, so each
// reminder mints a fresh token instead of re-sending a stored one; the
// stored hashes stay valid until expiry.
func (s *Service) SendReminders(ctx context.Context, doc *documents.Document) (int, error) {
	pending, err := s.ListPending(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(defaultTokenTTL)
	if doc.DeadlineAt != nil {
		expiresAt = *doc.DeadlineAt
	}
	for _, sg := range pending {
		raw, tokenHash, err := crypto.MintShareToken()
		if err != nil {
			return 0, err
		}
		err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			return s.tokens.Create(ctx, tx, &ShareToken{
				DocumentID: doc.ID,
				SignerID:   sg.ID,
				TokenHash:  tokenHash,
				ExpiresAt:  expiresAt,
				CreatedAt:  now,
			})
		})
		if err != nil {
			return 0, err
		}
		s.deliverInvite(doc, invitation{signer: sg, raw: raw},
			"Lembrete: o prazo de assinatura está próximo.")
	}
	return len(pending), nil
}

// ListPending returns the signers of a document still expected to sign.
func (s *Service) ListPending(ctx context.Context, documentID string) ([]*Signer, error) {
	all, err := s.signers.ListByDocument(ctx, s.db, documentID)
	if err != nil {
		return nil, err
	}
	var pending []*Signer
	for _, sg := range all {
		if sg.Status == StatusPending || sg.Status == StatusViewed {
			pending = append(pending, sg)
		}
	}
	return pending, nil
}

var _ documents.SignerLister = (*Service)(nil)
