package service

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/roastedbeans/certification-authority/internal/models"
)

var tracer = otel.Tracer("github.com/roastedbeans/certification-authority/internal/service")

// TokenService issues client credentials tokens (Support001, IA101).
type TokenService interface {
	IssueToken(ctx context.Context, phase models.Phase, req *models.TokenRequest) (*models.TokenResponse, error)
}

// OrgService serves organization discovery (Support002).
type OrgService interface {
	ListOrganizations(ctx context.Context, clientID, searchTimestamp string) (*models.OrgListResponse, error)
}

// ConsentService runs the consent phases IA102 to IA002.
type ConsentService interface {
	RequestSign(ctx context.Context, clientID string, req *models.SignRequest) (*models.SignResponse, error)
	SignResult(ctx context.Context, clientID string, req *models.SignResultRequest) (*models.SignResultResponse, error)
	Verify(ctx context.Context, req *models.VerifyRequest) (*models.VerifyResponse, error)
	DataAccess(ctx context.Context, req *models.DataAccessRequest) (*models.DataAccessResponse, error)
}
