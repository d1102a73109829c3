package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/flow"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/repository"
	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
	"github.com/roastedbeans/certification-authority/internal/validation"
	"github.com/roastedbeans/certification-authority/pkg/security"
)

// SignURLs are the bases of the redirect links returned by IA102.
type SignURLs struct {
	IOSAppScheme string `yaml:"ios_app_scheme"`
	AOSAppScheme string `yaml:"aos_app_scheme"`
	Web          string `yaml:"web"`
}

func (u SignURLs) build(base, certTxID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "cert_tx_id=" + url.QueryEscape(certTxID)
}

type consentService struct {
	certs     repository.CertificateRepository
	flow      *flow.Validator
	validator *validation.Validator
	signer    *security.ConsentSigner
	urls      SignURLs
	now       func() time.Time
}

func NewConsentService(
	certs repository.CertificateRepository,
	fv *flow.Validator,
	v *validation.Validator,
	signer *security.ConsentSigner,
	urls SignURLs,
) ConsentService {
	return &consentService{
		certs:     certs,
		flow:      fv,
		validator: v,
		signer:    signer,
		urls:      urls,
		now:       time.Now,
	}
}

func conflict(err error, msg string) error {
	if errors.Is(err, repository.ErrStateConflict) {
		return apperr.Protocol(apperr.OutOfSequence, "", "%s", msg)
	}
	return apperr.System(err, msg)
}

// RequestSign creates a certificate for the consent list (IA102). Every call
// creates a new certificate.
func (s *consentService) RequestSign(ctx context.Context, clientID string, req *models.SignRequest) (*models.SignResponse, error) {
	ctx, span := tracer.Start(ctx, "ConsentService.RequestSign")
	defer span.End()

	if err := s.validator.SignRequest(req); err != nil {
		return nil, err
	}
	if err := s.flow.AdmitOrgPhase(ctx, clientID, models.PhaseIA102); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cert := &models.Certificate{
		SignTxID:           req.SignTxID,
		ClientID:           clientID,
		UserCI:             req.UserCI,
		RealName:           req.RealName,
		PhoneNum:           util.NormalizePhone(req.PhoneNum),
		RequestTitle:       req.RequestTitle,
		DeviceCode:         req.DeviceCode,
		DeviceBrowser:      req.DeviceBrowser,
		ReturnAppSchemeURL: req.ReturnAppSchemeURL,
		ConsentType:        req.ConsentType,
		State:              models.StateConsentRequested,
		IssuedAt:           now,
		ExpiresAt:          now.Add(models.CertificateValidity),
		ConsentItems:       make([]models.ConsentItem, 0, len(req.ConsentList)),
	}
	for _, it := range req.ConsentList {
		txID := it.TxID
		if txID == "" {
			txID = util.NewTxID()
		}
		n, _ := it.ConsentLen.Int()
		cert.ConsentItems = append(cert.ConsentItems, models.ConsentItem{
			TxID:         txID,
			ConsentTitle: it.ConsentTitle,
			Consent:      it.Consent,
			ConsentLen:   n,
			ConsentType:  req.ConsentType,
		})
	}

	// a cert_tx_id collision is retried once with a fresh id
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		cert.CertTxID = util.NewCertTxID(now)
		if err = s.certs.CreateCertificate(ctx, cert); !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, repository.ErrDuplicateTxID) {
		return nil, apperr.Field(apperr.WrongType, "tx_id", apperr.CodeInvalidTxID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.System(err, "store certificate")
	}

	span.SetAttributes(attribute.String("ca.cert_tx_id", cert.CertTxID), attribute.Int("ca.consent_cnt", len(cert.ConsentItems)))
	logger.Infow("consent requested", "cert_tx_id", cert.CertTxID, "client_id", clientID, "consent_cnt", len(cert.ConsentItems))
	return &models.SignResponse{
		CertTxID:            cert.CertTxID,
		SignIOSAppSchemeURL: s.urls.build(s.urls.IOSAppScheme, cert.CertTxID),
		SignAOSAppSchemeURL: s.urls.build(s.urls.AOSAppScheme, cert.CertTxID),
		SignWebURL:          s.urls.build(s.urls.Web, cert.CertTxID),
	}, nil
}

// SignResult signs every consent item of the certificate (IA103).
func (s *consentService) SignResult(ctx context.Context, clientID string, req *models.SignResultRequest) (*models.SignResultResponse, error) {
	ctx, span := tracer.Start(ctx, "ConsentService.SignResult")
	defer span.End()
	span.SetAttributes(attribute.String("ca.cert_tx_id", req.CertTxID))

	if err := s.validator.SignResultRequest(req); err != nil {
		return nil, err
	}
	cert, err := s.flow.AdmitSignResult(ctx, clientID, req.CertTxID, req.SignTxID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	signed := make([]models.SignedConsent, 0, len(cert.ConsentItems))
	for _, it := range cert.ConsentItems {
		sig, err := s.signer.Sign(ctx, it.TxID, it.Consent)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, apperr.System(err, "sign consent")
		}
		signed = append(signed, models.SignedConsent{
			TxID:             it.TxID,
			CertTxID:         cert.CertTxID,
			UserID:           cert.UserCI,
			SignedConsent:    sig,
			SignedConsentLen: len(sig),
			CreatedAt:        now,
		})
	}
	if err := s.certs.AttachSignedConsents(ctx, cert.CertTxID, signed); err != nil {
		return nil, conflict(err, "certificate already signed")
	}

	logger.Infow("consent signed", "cert_tx_id", cert.CertTxID, "signed_consent_cnt", len(signed), "key_id", s.signer.KeyID())
	return &models.SignResultResponse{
		UserCI:            cert.UserCI,
		SignedConsentCnt:  len(signed),
		SignedConsentList: signed,
	}, nil
}

// Verify checks a presented signed consent (IA104). A mismatch is a
// successful call with result false.
func (s *consentService) Verify(ctx context.Context, req *models.VerifyRequest) (*models.VerifyResponse, error) {
	ctx, span := tracer.Start(ctx, "ConsentService.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("ca.cert_tx_id", req.CertTxID))

	if err := s.validator.VerifyRequest(req); err != nil {
		return nil, err
	}
	cert, stored, err := s.flow.AdmitVerification(ctx, req.CertTxID, req.TxID)
	if err != nil {
		return nil, err
	}
	item, ok := cert.Item(req.TxID)
	if !ok {
		return nil, apperr.Protocol(apperr.NotFound, apperr.CodeInvalidTxID, "tx_id is not part of the certificate")
	}

	result, reason, err := s.check(ctx, req, item, stored)
	if err != nil {
		return nil, apperr.System(err, "signature check failed")
	}

	v := models.Verification{TxID: req.TxID, CertTxID: cert.CertTxID, Result: result, VerifiedAt: s.now().UTC()}
	if err := s.certs.RecordVerification(ctx, v); err != nil {
		return nil, conflict(err, "certificate changed during verification")
	}

	span.SetAttributes(attribute.Bool("ca.result", result))
	if !result {
		logger.Warnw("consent verification failed", "cert_tx_id", cert.CertTxID, "tx_id", req.TxID, "reason", reason)
		return &models.VerifyResponse{Result: false}, nil
	}
	return &models.VerifyResponse{Result: true, UserCI: cert.UserCI}, nil
}

// check compares the request with the stored artifacts. reason names the
// first mismatch.
func (s *consentService) check(ctx context.Context, req *models.VerifyRequest, item *models.ConsentItem, stored *models.SignedConsent) (bool, string, error) {
	sigLen, err := req.SignedConsentLen.Int()
	if err != nil || sigLen != len(req.SignedConsent) {
		return false, "signed_consent_len", nil
	}
	if req.SignedConsent != stored.SignedConsent || sigLen != stored.SignedConsentLen {
		return false, "signed_consent", nil
	}
	consentLen, err := req.ConsentLen.Int()
	if err != nil || consentLen != utf8.RuneCountInString(req.Consent) {
		return false, "consent_len", nil
	}

	want := security.ConsentDigest(item.Consent)
	switch req.ConsentType {
	case security.ConsentTypeDigest:
		if !strings.EqualFold(req.Consent, want) {
			return false, "consent", nil
		}
	default:
		if security.ConsentDigest(req.Consent) != want {
			return false, "consent", nil
		}
	}

	ok, err := s.signer.Verify(ctx, req.TxID, req.Consent, req.ConsentType, req.SignedConsent)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "signature", nil
	}
	return true, "", nil
}

// DataAccess admits a bank data release for a verified tx_id (IA002).
func (s *consentService) DataAccess(ctx context.Context, req *models.DataAccessRequest) (*models.DataAccessResponse, error) {
	ctx, span := tracer.Start(ctx, "ConsentService.DataAccess")
	defer span.End()

	if err := s.validator.DataAccessRequest(req); err != nil {
		return nil, err
	}
	cert, _, err := s.flow.AdmitDataAccess(ctx, req.TxID)
	if err != nil {
		return nil, err
	}
	if s.now().After(cert.ExpiresAt) {
		return nil, apperr.Protocol(apperr.OutOfSequence, "", "certificate expired")
	}
	if err := s.certs.MarkAccessed(ctx, cert.CertTxID, req.TxID, s.now().UTC()); err != nil {
		return nil, conflict(err, "consent is not verified")
	}
	span.SetAttributes(attribute.String("ca.cert_tx_id", cert.CertTxID))
	return &models.DataAccessResponse{TxID: req.TxID, UserCI: cert.UserCI, AccessGranted: true}, nil
}
