// Package flow enforces the order of the consent protocol phases.
//
// Organization level phases (Support001, Support002, IA101) are tracked per
// client in a FlowStateStore. From IA102 on the flow key is the cert_tx_id and
// the state lives on the certificate itself, advanced by the repository in the
// same transaction that stores the phase artifact.
package flow

import (
	"context"
	"errors"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/repository"
)

var ErrUnknownPhase = errors.New("unknown phase")

// phaseRule is the state a phase requires and the state it produces.
type phaseRule struct {
	requires models.FlowState
	produces models.FlowState
}

var phases = map[models.Phase]phaseRule{
	models.PhaseSupport001: {models.StateStart, models.StateManaged},
	models.PhaseSupport002: {models.StateManaged, models.StateDiscovered},
	models.PhaseIA101:      {models.StateDiscovered, models.StateCAAuthenticated},
	models.PhaseIA102:      {models.StateCAAuthenticated, models.StateConsentRequested},
	models.PhaseIA103:      {models.StateConsentRequested, models.StateConsentSigned},
	models.PhaseIA104:      {models.StateConsentSigned, models.StateConsentVerified},
	models.PhaseIA002:      {models.StateConsentVerified, models.StateTerminal},
}

// CanTransition reports whether to directly follows from.
func CanTransition(from, to models.FlowState) bool {
	for _, r := range phases {
		if r.requires == from && r.produces == to {
			return true
		}
	}
	return false
}

// Next returns the state produced by phase when run from state from.
func Next(from models.FlowState, phase models.Phase) (models.FlowState, error) {
	r, ok := phases[phase]
	if !ok {
		return "", ErrUnknownPhase
	}
	if from != r.requires {
		return "", apperr.Protocol(apperr.OutOfSequence, "", "%s not allowed in state %s", phase, from)
	}
	return r.produces, nil
}

// IsTerminal reports whether no phase can follow s.
func IsTerminal(s models.FlowState) bool { return s == models.StateTerminal }

// CertificateReader is the part of the registry the validator consults.
type CertificateReader interface {
	GetCertificate(ctx context.Context, certTxID string) (*models.Certificate, error)
	GetVerification(ctx context.Context, txID string) (*models.Verification, error)
}

// Validator admits protocol operations whose predecessor artifacts exist.
type Validator struct {
	states repository.FlowStateStore
	certs  CertificateReader
}

func NewValidator(states repository.FlowStateStore, certs CertificateReader) *Validator {
	return &Validator{states: states, certs: certs}
}

// AdmitOrgPhase checks that clientID has reached the state phase requires.
// Organization phases may be repeated, since tokens expire and are reissued.
func (v *Validator) AdmitOrgPhase(ctx context.Context, clientID string, phase models.Phase) error {
	r, ok := phases[phase]
	if !ok {
		return ErrUnknownPhase
	}
	if r.requires == models.StateStart {
		return nil
	}
	cur, err := v.states.Get(ctx, clientID)
	if err != nil {
		return apperr.System(err, "load flow state")
	}
	if !cur.AtLeast(r.requires) {
		return apperr.Protocol(apperr.OutOfSequence, "", "%s requires %s, client is in %s", phase, r.requires, cur)
	}
	return nil
}

// CompleteOrgPhase records that clientID finished phase.
func (v *Validator) CompleteOrgPhase(ctx context.Context, clientID string, phase models.Phase) error {
	r, ok := phases[phase]
	if !ok {
		return ErrUnknownPhase
	}
	if _, err := v.states.Advance(ctx, clientID, r.produces); err != nil {
		return apperr.System(err, "advance flow state")
	}
	return nil
}

// AdmitSignResult admits IA103: the certificate must exist, belong to
// clientID, carry signTxID and still await signing.
func (v *Validator) AdmitSignResult(ctx context.Context, clientID, certTxID, signTxID string) (*models.Certificate, error) {
	cert, err := v.certs.GetCertificate(ctx, certTxID)
	if err != nil {
		return nil, apperr.System(err, "load certificate")
	}
	if cert == nil || (clientID != "" && cert.ClientID != clientID) {
		return nil, apperr.Protocol(apperr.NotFound, apperr.CodeNoCertificateFound, "no certificate for cert_tx_id")
	}
	if cert.SignTxID != signTxID {
		return nil, apperr.Protocol(apperr.OutOfSequence, apperr.CodeInvalidSignTxID, "sign_tx_id does not match the certificate")
	}
	if _, err := Next(cert.State, models.PhaseIA103); err != nil {
		return nil, err
	}
	return cert, nil
}

// AdmitVerification admits IA104: txID must be among the signed consents of
// certTxID.
func (v *Validator) AdmitVerification(ctx context.Context, certTxID, txID string) (*models.Certificate, *models.SignedConsent, error) {
	cert, err := v.certs.GetCertificate(ctx, certTxID)
	if err != nil {
		return nil, nil, apperr.System(err, "load certificate")
	}
	if cert == nil {
		return nil, nil, apperr.Protocol(apperr.NotFound, apperr.CodeNoCertificateFound, "no certificate for cert_tx_id")
	}
	if !cert.State.AtLeast(models.StateConsentSigned) {
		return nil, nil, apperr.Protocol(apperr.OutOfSequence, "", "certificate is not signed yet")
	}
	for i := range cert.SignedConsents {
		if cert.SignedConsents[i].TxID == txID {
			return cert, &cert.SignedConsents[i], nil
		}
	}
	return nil, nil, apperr.Protocol(apperr.NotFound, apperr.CodeInvalidTxID, "tx_id has no signed consent for this certificate")
}

// AdmitDataAccess admits IA002: txID must have a successful verification.
func (v *Validator) AdmitDataAccess(ctx context.Context, txID string) (*models.Certificate, *models.Verification, error) {
	ver, err := v.certs.GetVerification(ctx, txID)
	if err != nil {
		return nil, nil, apperr.System(err, "load verification")
	}
	if ver == nil {
		return nil, nil, apperr.Protocol(apperr.NotFound, apperr.CodeInvalidTxID, "tx_id has not been verified")
	}
	if !ver.Result {
		return nil, nil, apperr.Protocol(apperr.OutOfSequence, apperr.CodeInvalidTxID, "tx_id failed verification")
	}
	cert, err := v.certs.GetCertificate(ctx, ver.CertTxID)
	if err != nil {
		return nil, nil, apperr.System(err, "load certificate")
	}
	if cert == nil {
		return nil, nil, apperr.Protocol(apperr.NotFound, apperr.CodeNoCertificateFound, "no certificate for tx_id")
	}
	return cert, ver, nil
}
