package service

import (
	"context"
	"crypto/subtle"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/flow"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/repository"
	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(clientID, orgCode, scope string) (string, *util.ClientClaims, error)
	TTL() time.Duration
}

// phaseScope is the only scope each token phase may request.
var phaseScope = map[models.Phase]string{
	models.PhaseSupport001: util.ScopeManage,
	models.PhaseIA101:      util.ScopeCA,
}

type tokenService struct {
	clients   repository.ClientRepository
	issuer    TokenIssuer
	flow      *flow.Validator
	validator *validation.Validator
}

func NewTokenService(clients repository.ClientRepository, issuer TokenIssuer, fv *flow.Validator, v *validation.Validator) TokenService {
	return &tokenService{clients: clients, issuer: issuer, flow: fv, validator: v}
}

func (s *tokenService) IssueToken(ctx context.Context, phase models.Phase, req *models.TokenRequest) (*models.TokenResponse, error) {
	ctx, span := tracer.Start(ctx, "TokenService.IssueToken")
	defer span.End()
	span.SetAttributes(attribute.String("ca.phase", string(phase)), attribute.String("ca.client_id", req.ClientID))

	if err := s.validator.TokenRequest(req); err != nil {
		return nil, err
	}
	if want, ok := phaseScope[phase]; !ok || req.Scope != want {
		return nil, apperr.Field(apperr.WrongType, "scope", apperr.CodeInvalidParameters)
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, apperr.System(err, "load client")
	}
	if client == nil || subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(req.ClientSecret)) != 1 {
		return nil, apperr.Auth(apperr.Unauthorized, "invalid client credentials")
	}
	if !client.AllowsScope(req.Scope) {
		return nil, apperr.Auth(apperr.Forbidden, "scope not granted to client")
	}

	if err := s.flow.AdmitOrgPhase(ctx, client.ClientID, phase); err != nil {
		return nil, err
	}
	token, _, err := s.issuer.Issue(client.ClientID, client.OrgCode, req.Scope)
	if err != nil {
		return nil, apperr.System(err, "issue token")
	}
	if err := s.flow.CompleteOrgPhase(ctx, client.ClientID, phase); err != nil {
		return nil, err
	}

	return &models.TokenResponse{
		TokenType:   "Bearer",
		AccessToken: token,
		ExpiresIn:   int(s.issuer.TTL().Seconds()),
		Scope:       req.Scope,
	}, nil
}

const searchTimestampLayout = "20060102150405"

type orgService struct {
	clients   repository.ClientRepository
	flow      *flow.Validator
	validator *validation.Validator
	now       func() time.Time
}

func NewOrgService(clients repository.ClientRepository, fv *flow.Validator, v *validation.Validator) OrgService {
	return &orgService{clients: clients, flow: fv, validator: v, now: time.Now}
}

// ListOrganizations returns the registered organizations, only those updated
// after searchTimestamp when it is given.
func (s *orgService) ListOrganizations(ctx context.Context, clientID, searchTimestamp string) (*models.OrgListResponse, error) {
	ctx, span := tracer.Start(ctx, "OrgService.ListOrganizations")
	defer span.End()

	if err := s.validator.OrgSearch(searchTimestamp); err != nil {
		return nil, err
	}
	var since time.Time
	if searchTimestamp != "" {
		t, err := time.ParseInLocation(searchTimestampLayout, searchTimestamp, time.UTC)
		if err != nil {
			return nil, apperr.Field(apperr.WrongType, "search_timestamp", apperr.CodeInvalidParameters)
		}
		since = t
	}

	if err := s.flow.AdmitOrgPhase(ctx, clientID, models.PhaseSupport002); err != nil {
		return nil, err
	}
	orgs, err := s.clients.ListOrganizations(ctx)
	if err != nil {
		return nil, apperr.System(err, "list organizations")
	}
	out := make([]models.Organization, 0, len(orgs))
	for _, o := range orgs {
		if !since.IsZero() && !o.UpdatedAt.IsZero() && !o.UpdatedAt.After(since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgCode < out[j].OrgCode })

	if err := s.flow.CompleteOrgPhase(ctx, clientID, models.PhaseSupport002); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("ca.org_cnt", len(out)))
	return &models.OrgListResponse{
		SearchTimestamp: s.now().UTC().Format(searchTimestampLayout),
		OrgCnt:          len(out),
		OrgList:         out,
	}, nil
}
