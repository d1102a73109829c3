package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roastedbeans/certification-authority/internal/models"
)

type memoryClientRepository struct {
	clients map[string]models.Client
}

// NewMemoryClientRepository serves a fixed client registry, usually from config.
func NewMemoryClientRepository(clients []models.Client) ClientRepository {
	m := make(map[string]models.Client, len(clients))
	for _, c := range clients {
		m[c.ClientID] = c
	}
	return &memoryClientRepository{clients: m}
}

func (r *memoryClientRepository) GetClient(_ context.Context, clientID string) (*models.Client, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memoryClientRepository) ListOrganizations(_ context.Context) ([]models.Organization, error) {
	seen := map[string]bool{}
	out := make([]models.Organization, 0, len(r.clients))
	for _, c := range r.clients {
		if seen[c.OrgCode] {
			continue
		}
		seen[c.OrgCode] = true
		out = append(out, models.Organization{OrgCode: c.OrgCode, OrgName: c.OrgName, OrgType: c.OrgType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgCode < out[j].OrgCode })
	return out, nil
}

type memoryCertificateRepository struct {
	mu            sync.RWMutex
	certs         map[string]*models.Certificate
	txOwners      map[string]string
	verifications map[string]models.Verification
}

// NewMemoryCertificateRepository keeps certificates in process memory.
func NewMemoryCertificateRepository() CertificateRepository {
	return &memoryCertificateRepository{
		certs:         make(map[string]*models.Certificate),
		txOwners:      make(map[string]string),
		verifications: make(map[string]models.Verification),
	}
}

func cloneCertificate(c *models.Certificate) *models.Certificate {
	cp := *c
	cp.ConsentItems = append([]models.ConsentItem(nil), c.ConsentItems...)
	cp.SignedConsents = append([]models.SignedConsent(nil), c.SignedConsents...)
	return &cp
}

func (r *memoryCertificateRepository) CreateCertificate(_ context.Context, cert *models.Certificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.certs[cert.CertTxID]; ok {
		return ErrDuplicate
	}
	seen := make(map[string]bool, len(cert.ConsentItems))
	for _, it := range cert.ConsentItems {
		if _, ok := r.txOwners[it.TxID]; ok || seen[it.TxID] {
			return ErrDuplicateTxID
		}
		seen[it.TxID] = true
	}
	for _, it := range cert.ConsentItems {
		r.txOwners[it.TxID] = cert.CertTxID
	}
	r.certs[cert.CertTxID] = cloneCertificate(cert)
	return nil
}

func (r *memoryCertificateRepository) GetCertificate(_ context.Context, certTxID string) (*models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.certs[certTxID]
	if !ok {
		return nil, nil
	}
	return cloneCertificate(c), nil
}

func (r *memoryCertificateRepository) AttachSignedConsents(_ context.Context, certTxID string, signed []models.SignedConsent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[certTxID]
	if !ok || c.State != models.StateConsentRequested {
		return ErrStateConflict
	}
	c.SignedConsents = append([]models.SignedConsent(nil), signed...)
	c.State = models.StateConsentSigned
	return nil
}

func (r *memoryCertificateRepository) RecordVerification(_ context.Context, v models.Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[v.CertTxID]
	if !ok || r.txOwners[v.TxID] != v.CertTxID {
		return ErrStateConflict
	}
	if prev, ok := r.verifications[v.TxID]; ok {
		// a passed verification is never taken back
		if prev.Result {
			return nil
		}
		v.AccessedAt = prev.AccessedAt
	}
	r.verifications[v.TxID] = v
	if v.Result && c.State == models.StateConsentSigned {
		c.State = models.StateConsentVerified
	}
	return nil
}

func (r *memoryCertificateRepository) GetVerification(_ context.Context, txID string) (*models.Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifications[txID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *memoryCertificateRepository) MarkAccessed(_ context.Context, certTxID, txID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[certTxID]
	v, vok := r.verifications[txID]
	if !ok || !vok || !v.Result || !c.State.AtLeast(models.StateConsentVerified) {
		return ErrStateConflict
	}
	v.AccessedAt = &at
	r.verifications[txID] = v
	c.State = models.StateTerminal
	return nil
}

type memoryFlowStateStore struct {
	mu     sync.Mutex
	states map[string]models.FlowState
}

func NewMemoryFlowStateStore() FlowStateStore {
	return &memoryFlowStateStore{states: make(map[string]models.FlowState)}
}

func (s *memoryFlowStateStore) Get(_ context.Context, key string) (models.FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st, nil
	}
	return models.StateStart, nil
}

func (s *memoryFlowStateStore) Advance(_ context.Context, key string, state models.FlowState) (models.FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[key]
	if !ok || state.Rank() > cur.Rank() {
		s.states[key] = state
		return state, nil
	}
	return cur, nil
}

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]IdempotencyRecord
}

// NewMemoryIdempotencyStore keeps records for ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) IdempotencyStore {
	return &memoryIdempotencyStore{ttl: ttl, now: time.Now, records: make(map[string]IdempotencyRecord)}
}

func (s *memoryIdempotencyStore) Reserve(_ context.Context, key, requestHash string) (*IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec, ok := s.records[key]; ok && now.Sub(rec.CreatedAt) < s.ttl {
		return &rec, false, nil
	}
	s.records[key] = IdempotencyRecord{RequestHash: requestHash, CreatedAt: now}
	return nil, true, nil
}

func (s *memoryIdempotencyStore) Complete(_ context.Context, key string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[key]
	if ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = s.now()
	}
	rec.Completed = true
	s.records[key] = rec
	return nil
}

func (s *memoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
