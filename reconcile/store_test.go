package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payrelay/payrelay/provider"
)

// memStore is an in-memory Store with the same conditional-write semantics
// as the PostgreSQL implementation.
type memStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	links    map[string]*PaymentLink
	audits   []*AuditEntry

	transitionErr error
}

func newMemStore() *memStore {
	return &memStore{
		payments: make(map[string]*Payment),
		links:    make(map[string]*PaymentLink),
	}
}

func (s *memStore) CreatePayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *memStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) FindByReference(ctx context.Context, gateway string, field ReferenceField, value string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.Gateway != gateway {
			continue
		}
		var match bool
		switch field {
		case RefInternalID:
			match = p.ID == value
		case RefOrderID:
			match = p.OrderID == value
		case RefGatewayOrderNo:
			match = p.GatewayOrderNo == value
		case RefGatewayPaymentID:
			match = p.GatewayPaymentID == value
		}
		if match {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *memStore) OrderNoExists(ctx context.Context, orderNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.GatewayOrderNo == orderNo {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ApplyTransition(ctx context.Context, id string, version int64, newStatus provider.Status, setPaidAt bool, at time.Time, enrich Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transitionErr != nil {
		return s.transitionErr
	}

	p, ok := s.payments[id]
	if !ok || p.Version != version {
		return ErrConflict
	}

	p.Status = newStatus
	p.Version++
	p.UpdatedAt = at
	if setPaidAt {
		paidAt := at
		p.PaidAt = &paidAt
	}
	applyEnrich(p, enrich)
	return nil
}

func (s *memStore) SaveEnrichment(ctx context.Context, id string, enrich Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	applyEnrich(p, enrich)
	return nil
}

func applyEnrich(p *Payment, enrich Enrichment) {
	if enrich.PaymentMethod != "" {
		p.PaymentMethod = enrich.PaymentMethod
	}
	if enrich.BankID != "" {
		p.BankID = enrich.BankID
	}
	if enrich.RemitterIBAN != "" {
		p.RemitterIBAN = enrich.RemitterIBAN
	}
	if enrich.RemitterName != "" {
		p.RemitterName = enrich.RemitterName
	}
	if enrich.CardLast4 != "" {
		p.CardLast4 = enrich.CardLast4
	}
}

func (s *memStore) ListPendingOlderThan(ctx context.Context, gateway string, cutoff time.Time) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Payment
	for _, p := range s.payments {
		if p.Status == provider.StatusPending && p.CreatedAt.Before(cutoff) && (gateway == "" || p.Gateway == gateway) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListPending(ctx context.Context, gateway string) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Payment
	for _, p := range s.payments {
		if p.Status == provider.StatusPending && (gateway == "" || p.Gateway == gateway) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) GetLink(ctx context.Context, id string) (*PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) RecountLinkUsage(ctx context.Context, linkID, excludePaymentID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[linkID]
	if !ok {
		return 0, false, ErrLinkNotFound
	}

	siblings := 0
	for _, p := range s.payments {
		if p.LinkID == linkID && p.ID != excludePaymentID && p.Status == provider.StatusPaid && p.PaidAt != nil {
			siblings++
		}
	}

	count := 1 + siblings
	completed := count >= l.MaxPayments
	l.UsedCount = count
	if completed {
		l.Status = LinkCompleted
	} else {
		l.Status = LinkActive
	}
	return count, completed, nil
}

func (s *memStore) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.audits = append(s.audits, &cp)
	return nil
}

func (s *memStore) auditsOfKind(kind AuditKind) []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*AuditEntry
	for _, e := range s.audits {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// emptySettings is a SettingsSource returning a merchant with nothing
// configured, so dispatch is a no-op.
type emptySettings struct{}

func (emptySettings) MerchantSettings(ctx context.Context, merchantID string) (*MerchantSettings, error) {
	return &MerchantSettings{}, nil
}

// fixedSettings always returns the same settings record.
type fixedSettings struct {
	settings MerchantSettings
}

func (f *fixedSettings) MerchantSettings(ctx context.Context, merchantID string) (*MerchantSettings, error) {
	cp := f.settings
	return &cp, nil
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(ctx context.Context, merchantID, category, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, category)
	return nil
}

func (n *recordingNotifier) categories() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}
