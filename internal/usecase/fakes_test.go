package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
	"verification-service/pkg/events"
	"verification-service/pkg/xerrors"
)

// fakePayments is an in-memory PaymentStore with the same conditional
// update semantics as the SQL repository.
type fakePayments struct {
	mu       sync.Mutex
	rows     map[string]*domain.PaymentIntent
	getErr   error
	mergeErr error
}

func newFakePayments(ps ...*domain.PaymentIntent) *fakePayments {
	f := &fakePayments{rows: map[string]*domain.PaymentIntent{}}
	for _, p := range ps {
		f.rows[p.ID] = p
	}
	return f
}

func clonePayment(p *domain.PaymentIntent) *domain.PaymentIntent {
	c := *p
	raw, _ := json.Marshal(p.WebhookData)
	c.WebhookData = domain.Evidence{}
	_ = json.Unmarshal(raw, &c.WebhookData)
	return &c
}

func (f *fakePayments) get(id string) *domain.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clonePayment(f.rows[id])
}

func (f *fakePayments) GetByID(_ context.Context, id string) (*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return clonePayment(p), nil
}

func (f *fakePayments) FindByPayCode(_ context.Context, code string) (*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.PaymentIntent
	for _, p := range f.rows {
		if p.PayCode != nil && *p.PayCode == code && (best == nil || p.CreatedAt.After(best.CreatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, xerrors.ErrNotFound
	}
	return clonePayment(best), nil
}

func (f *fakePayments) LatestPendingBank(_ context.Context, userID string) (*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.PaymentIntent
	for _, p := range f.rows {
		if p.UserID == userID && p.Method == domain.MethodBank && p.Status == domain.PaymentStatusPending &&
			(best == nil || p.CreatedAt.After(best.CreatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, xerrors.ErrNotFound
	}
	return clonePayment(best), nil
}

func (f *fakePayments) ListRecentForSweep(_ context.Context, since time.Time, limit int) ([]*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PaymentIntent
	for _, p := range f.rows {
		if p.IsOpen() && !p.CreatedAt.Before(since) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePayments) ApproveConditional(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || !p.IsOpen() {
		return false, nil
	}
	now := time.Now()
	p.Status = domain.PaymentStatusApproved
	p.ApprovedAt = &now
	return true, nil
}

func (f *fakePayments) MarkManualReview(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = domain.PaymentStatusManualReview
	return true, nil
}

func (f *fakePayments) SetReviewStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	p.ReviewStatus = &status
	return nil
}

func (f *fakePayments) MergeEvidence(_ context.Context, id string, ev domain.Evidence, txID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	p, ok := f.rows[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if ev.OCR != nil {
		p.WebhookData.OCR = ev.OCR
	}
	if ev.Crypto != nil {
		p.WebhookData.Crypto = ev.Crypto
	}
	if ev.Binance != nil {
		p.WebhookData.Binance = ev.Binance
	}
	if txID != nil {
		if f.txClaimedLocked(p.Method, *txID, id) {
			return xerrors.ErrTxAlreadyUsed
		}
		p.TxID = txID
	}
	return nil
}

func (f *fakePayments) TxIDClaimed(_ context.Context, method domain.PaymentMethod, txID, exceptID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txClaimedLocked(method, txID, exceptID), nil
}

// txClaimedLocked mirrors the partial unique index on (method, tx_id).
func (f *fakePayments) txClaimedLocked(method domain.PaymentMethod, txID, exceptID string) bool {
	for id, p := range f.rows {
		if id == exceptID || p.Method != method || p.TxID == nil || *p.TxID != txID {
			continue
		}
		if p.IsOpen() || p.Status == domain.PaymentStatusApproved {
			return true
		}
	}
	return false
}

type fakeReceipts struct {
	mu        sync.Mutex
	byHash    map[string]*domain.Receipt
	insertErr error
	notifyErr error
	inserts   int
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{byHash: map[string]*domain.Receipt{}}
}

func (f *fakeReceipts) Insert(_ context.Context, rec *domain.Receipt) (*domain.Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, false, f.insertErr
	}
	if existing, ok := f.byHash[rec.ContentHash]; ok {
		c := *existing
		return &c, false, nil
	}
	f.inserts++
	c := *rec
	if c.ID == "" {
		c.ID = "rcpt-" + rec.ContentHash
	}
	f.byHash[rec.ContentHash] = &c
	out := c
	return &out, true, nil
}

func (f *fakeReceipts) MarkNotified(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return false, f.notifyErr
	}
	for _, r := range f.byHash {
		if r.ID == id {
			if r.Notified {
				return false, nil
			}
			r.Notified = true
			return true, nil
		}
	}
	return false, xerrors.ErrNotFound
}

func (f *fakeReceipts) byContentHash(h string) *domain.Receipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHash[h]
}

type fakePlans map[string]*domain.Plan

func (f fakePlans) GetByID(_ context.Context, id string) (*domain.Plan, error) {
	p, ok := f[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (f *fakeAudit) Insert(_ context.Context, e *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

type fakeExtractor struct {
	text  map[string]string
	conf  float64
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(_ context.Context, ref string) (*domain.OCRResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.OCRResult{Text: f.text[ref], Confidence: f.conf}, nil
}

type sentMessage struct {
	chatID string
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Notify(_ context.Context, chatID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fakeTron struct {
	result *domain.VerificationResult
	calls  int
}

func (f *fakeTron) VerifyTransfer(_ context.Context, txID, _ string, _ decimal.Decimal) *domain.VerificationResult {
	f.calls++
	r := *f.result
	r.TxID = txID
	return &r
}

type fakeBinance struct {
	result *domain.DepositCheck
	calls  int
}

func (f *fakeBinance) VerifyDeposit(_ context.Context, txID string) *domain.DepositCheck {
	f.calls++
	r := *f.result
	r.TxID = txID
	return &r
}

type fakeBeneficiaries map[string]*domain.ApprovedBeneficiary

func (f fakeBeneficiaries) FindByAccount(_ context.Context, account string) (*domain.ApprovedBeneficiary, error) {
	return f[account], nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
