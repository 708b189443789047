package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
)

// memStore is an in-memory stand-in for the relational store. Counter updates and claims
// are applied under one lock, the same way the store applies them in a single statement.
type memStore struct {
	mu          sync.Mutex
	nextID      uint
	owners      map[uint]*models.Owner
	messages    map[string]*models.TrackedMessage
	links       []*models.TrackedLink
	opens       []*models.OpenEvent
	clicks      []*models.LinkClickEvent
	unsubs      map[string]*models.Unsubscribe
	sequences   map[uint]*models.Sequence
	steps       []*models.SequenceStep
	enrollments map[uint]*models.SequenceEnrollment

	failOpenSave  error
	failClickSave error
	failApplyOpen error
}

func newMemStore() *memStore {
	return &memStore{
		owners:      make(map[uint]*models.Owner),
		messages:    make(map[string]*models.TrackedMessage),
		unsubs:      make(map[string]*models.Unsubscribe),
		sequences:   make(map[uint]*models.Sequence),
		enrollments: make(map[uint]*models.SequenceEnrollment),
	}
}

func (s *memStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memStore) addOwner(o *models.Owner) *models.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.id()
	}
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	s.owners[o.ID] = o
	return o
}

func (s *memStore) message(id string) *models.TrackedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

func (s *memStore) enrollment(id uint) *models.SequenceEnrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil
	}
	c := *e
	return &c
}

// owner repository

type fakeOwnerRepo struct{ s *memStore }

func (r fakeOwnerRepo) ByID(_ context.Context, id uint) (*models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

func (r fakeOwnerRepo) ByFilter(_ context.Context, f models.OwnerFilter, _ string, _, _ int) ([]*models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Owner
	for _, o := range r.s.owners {
		if f.ID != nil && o.ID != *f.ID {
			continue
		}
		if f.Email != nil && o.Email != *f.Email {
			continue
		}
		c := *o
		out = append(out, &c)
	}
	return out, nil
}

func (r fakeOwnerRepo) Save(_ context.Context, o *models.Owner) error {
	r.s.addOwner(o)
	return nil
}

func (r fakeOwnerRepo) SaveBatch(ctx context.Context, owners []*models.Owner) error {
	for _, o := range owners {
		_ = r.Save(ctx, o)
	}
	return nil
}

func (r fakeOwnerRepo) Count(ctx context.Context, f models.OwnerFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r fakeOwnerRepo) Exists(ctx context.Context, f models.OwnerFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r fakeOwnerRepo) ByUUID(_ context.Context, id string) (*models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.owners {
		if o.UUID.String() == id {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (r fakeOwnerRepo) ClaimMonthlySend(_ context.Context, ownerID uint, period string, limit int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[ownerID]
	if !ok {
		return false, nil
	}
	if o.QuotaPeriod != period {
		o.MonthlySendCount = 0
		o.QuotaPeriod = period
	}
	if limit > 0 && !o.IsPremium && o.MonthlySendCount >= limit {
		return false, nil
	}
	o.MonthlySendCount++
	return true, nil
}

func (r fakeOwnerRepo) ReleaseMonthlySend(_ context.Context, ownerID uint, period string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.owners[ownerID]; ok && o.QuotaPeriod == period && o.MonthlySendCount > 0 {
		o.MonthlySendCount--
	}
	return nil
}

func (r fakeOwnerRepo) UpdateSettings(_ context.Context, ownerID uint, updates map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[ownerID]
	if !ok {
		return nil
	}
	str := func(v any) *string {
		if v == nil {
			return nil
		}
		s := v.(string)
		return &s
	}
	for k, v := range updates {
		switch k {
		case "display_name":
			o.DisplayName = v.(string)
		case "webhook_url":
			o.WebhookURL = str(v)
		case "relay_host":
			o.RelayHost = str(v)
		case "relay_port":
			o.RelayPort = v.(int)
		case "relay_username":
			o.RelayUsername = str(v)
		case "relay_password_enc":
			o.RelayPasswordEnc = str(v)
		case "relay_from_email":
			o.RelayFromEmail = str(v)
		}
	}
	return nil
}

// tracked message repository

type fakeMessageRepo struct{ s *memStore }

func (r fakeMessageRepo) ByID(_ context.Context, id string) (*models.TrackedMessage, error) {
	return r.s.message(id), nil
}

func (r fakeMessageRepo) match(m *models.TrackedMessage, f models.TrackedMessageFilter) bool {
	switch {
	case f.ID != nil && m.ID != *f.ID:
		return false
	case f.OwnerID != nil && m.OwnerID != *f.OwnerID:
		return false
	case f.Recipient != nil && m.Recipient != *f.Recipient:
		return false
	case f.Status != nil && m.Status != *f.Status:
		return false
	case f.Source != nil && m.Source != *f.Source:
		return false
	case f.MinHeatScore != nil && m.HeatScore < *f.MinHeatScore:
		return false
	case f.Opened != nil && (m.OpenedAt != nil) != *f.Opened:
		return false
	}
	return true
}

func (r fakeMessageRepo) ByFilter(_ context.Context, f models.TrackedMessageFilter, _ string, limit, offset int) ([]*models.TrackedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TrackedMessage
	for _, m := range r.s.messages {
		if r.match(m, f) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeMessageRepo) Count(ctx context.Context, f models.TrackedMessageFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r fakeMessageRepo) Save(_ context.Context, m *models.TrackedMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	c := *m
	r.s.messages[m.ID] = &c
	return nil
}

func (r fakeMessageRepo) ApplyOpen(_ context.Context, id string, heat int64, openedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failApplyOpen != nil {
		return r.s.failApplyOpen
	}
	m, ok := r.s.messages[id]
	if !ok {
		return nil
	}
	m.OpenCount++
	m.HeatScore += heat
	if openedAt != nil && (m.OpenedAt == nil || openedAt.After(*m.OpenedAt)) {
		at := *openedAt
		m.OpenedAt = &at
	}
	return nil
}

func (r fakeMessageRepo) AddHeat(_ context.Context, id string, heat int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[id]; ok {
		m.HeatScore += heat
	}
	return nil
}

func (r fakeMessageRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*models.TrackedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TrackedMessage
	for _, m := range r.s.messages {
		if m.Status != models.MessageStatusPending || m.ScheduledAt == nil || m.ScheduledAt.After(now) {
			continue
		}
		if utils.LeaseHeld(m.ClaimedUntil, now) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeMessageRepo) ClaimScheduled(_ context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.Status != models.MessageStatusPending {
		return false, nil
	}
	if utils.LeaseHeld(m.ClaimedUntil, now) {
		return false, nil
	}
	m.ClaimedUntil = &leaseUntil
	return true, nil
}

func (r fakeMessageRepo) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[id]; ok {
		m.Status = models.MessageStatusSent
		m.SentAt = &sentAt
		m.FailureReason = nil
		m.ClaimedUntil = nil
	}
	return nil
}

func (r fakeMessageRepo) MarkFailed(_ context.Context, id string, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[id]; ok {
		m.Status = models.MessageStatusFailed
		m.FailureReason = &reason
		m.ClaimedUntil = nil
	}
	return nil
}

// link repository

type fakeLinkRepo struct{ s *memStore }

func (r fakeLinkRepo) ByID(_ context.Context, id uint) (*models.TrackedLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.links {
		if l.ID == id {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (r fakeLinkRepo) ByFilter(_ context.Context, f models.TrackedLinkFilter, _ string, _, _ int) ([]*models.TrackedLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TrackedLink
	for _, l := range r.s.links {
		if f.Code != nil && l.Code != *f.Code {
			continue
		}
		if f.MessageID != nil && l.MessageID != *f.MessageID {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

func (r fakeLinkRepo) Save(_ context.Context, l *models.TrackedLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l.ID = r.s.id()
	c := *l
	r.s.links = append(r.s.links, &c)
	return nil
}

func (r fakeLinkRepo) SaveBatch(ctx context.Context, links []*models.TrackedLink) error {
	for _, l := range links {
		_ = r.Save(ctx, l)
	}
	return nil
}

func (r fakeLinkRepo) Count(ctx context.Context, f models.TrackedLinkFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r fakeLinkRepo) Exists(ctx context.Context, f models.TrackedLinkFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r fakeLinkRepo) ByCode(ctx context.Context, code string) (*models.TrackedLink, error) {
	rows, _ := r.ByFilter(ctx, models.TrackedLinkFilter{Code: &code}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r fakeLinkRepo) ListByMessage(ctx context.Context, messageID string) ([]*models.TrackedLink, error) {
	return r.ByFilter(ctx, models.TrackedLinkFilter{MessageID: &messageID}, "", 0, 0)
}

// engagement event repositories

type fakeOpenRepo struct{ s *memStore }

func (r fakeOpenRepo) Save(_ context.Context, e *models.OpenEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failOpenSave != nil {
		return r.s.failOpenSave
	}
	e.ID = r.s.id()
	c := *e
	r.s.opens = append(r.s.opens, &c)
	return nil
}

func (r fakeOpenRepo) ListByMessage(_ context.Context, messageID string, limit int) ([]*models.OpenEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.OpenEvent
	for i := len(r.s.opens) - 1; i >= 0; i-- {
		if r.s.opens[i].MessageID == messageID {
			c := *r.s.opens[i]
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeOpenRepo) Count(_ context.Context, f models.EngagementEventFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.opens {
		if f.MessageID != nil && e.MessageID != *f.MessageID {
			continue
		}
		if f.IsProxy != nil && e.IsProxy != *f.IsProxy {
			continue
		}
		n++
	}
	return n, nil
}

type fakeClickRepo struct{ s *memStore }

func (r fakeClickRepo) Save(_ context.Context, e *models.LinkClickEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failClickSave != nil {
		return r.s.failClickSave
	}
	e.ID = r.s.id()
	c := *e
	r.s.clicks = append(r.s.clicks, &c)
	return nil
}

func (r fakeClickRepo) ListByMessage(_ context.Context, messageID string, limit int) ([]*models.LinkClickEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.LinkClickEvent
	for i := len(r.s.clicks) - 1; i >= 0; i-- {
		if r.s.clicks[i].MessageID == messageID {
			c := *r.s.clicks[i]
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeClickRepo) Count(_ context.Context, f models.EngagementEventFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.clicks {
		if f.MessageID != nil && e.MessageID != *f.MessageID {
			continue
		}
		n++
	}
	return n, nil
}

func (r fakeClickRepo) CountByMessageIDs(_ context.Context, ids []string) (map[string]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string]int64)
	for _, e := range r.s.clicks {
		if want[e.MessageID] {
			out[e.MessageID]++
		}
	}
	return out, nil
}

// unsubscribe repository

type fakeUnsubRepo struct{ s *memStore }

func unsubKey(ownerID uint, email string) string {
	return fmt.Sprintf("%d:%s", ownerID, email)
}

func (r fakeUnsubRepo) IsUnsubscribed(_ context.Context, ownerID uint, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.unsubs[unsubKey(ownerID, email)]
	return ok, nil
}

func (r fakeUnsubRepo) Record(_ context.Context, u *models.Unsubscribe) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := unsubKey(u.OwnerID, u.Email)
	if _, ok := r.s.unsubs[key]; ok {
		return nil
	}
	u.ID = r.s.id()
	c := *u
	r.s.unsubs[key] = &c
	return nil
}

// sequence repositories

type fakeSequenceRepo struct{ s *memStore }

func (r fakeSequenceRepo) ByID(_ context.Context, id uint) (*models.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, ok := r.s.sequences[id]
	if !ok {
		return nil, nil
	}
	c := *seq
	return &c, nil
}

func (r fakeSequenceRepo) ByFilter(_ context.Context, f models.SequenceFilter, _ string, _, _ int) ([]*models.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Sequence
	for _, seq := range r.s.sequences {
		if f.OwnerID != nil && seq.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != nil && seq.Status != *f.Status {
			continue
		}
		c := *seq
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeSequenceRepo) Save(_ context.Context, seq *models.Sequence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq.ID = r.s.id()
	c := *seq
	c.Steps = nil
	r.s.sequences[seq.ID] = &c
	return nil
}

func (r fakeSequenceRepo) SaveBatch(ctx context.Context, seqs []*models.Sequence) error {
	for _, seq := range seqs {
		_ = r.Save(ctx, seq)
	}
	return nil
}

func (r fakeSequenceRepo) Count(ctx context.Context, f models.SequenceFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r fakeSequenceRepo) Exists(ctx context.Context, f models.SequenceFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r fakeSequenceRepo) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	seq, _ := r.ByID(ctx, id)
	if seq == nil {
		return nil, nil
	}
	steps, _ := fakeStepRepo{r.s}.ListBySequence(ctx, id)
	for _, st := range steps {
		seq.Steps = append(seq.Steps, *st)
	}
	return seq, nil
}

func (r fakeSequenceRepo) UpdateStatus(_ context.Context, id uint, status models.SequenceStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if seq, ok := r.s.sequences[id]; ok {
		seq.Status = status
	}
	return nil
}

type fakeStepRepo struct{ s *memStore }

func (r fakeStepRepo) SaveBatch(_ context.Context, steps []*models.SequenceStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range steps {
		st.ID = r.s.id()
		c := *st
		r.s.steps = append(r.s.steps, &c)
	}
	return nil
}

func (r fakeStepRepo) ByOrder(_ context.Context, sequenceID uint, order int) (*models.SequenceStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.steps {
		if st.SequenceID == sequenceID && st.StepOrder == order {
			c := *st
			return &c, nil
		}
	}
	return nil, nil
}

func (r fakeStepRepo) ListBySequence(_ context.Context, sequenceID uint) ([]*models.SequenceStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SequenceStep
	for _, st := range r.s.steps {
		if st.SequenceID == sequenceID {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

type fakeEnrollmentRepo struct{ s *memStore }

func (r fakeEnrollmentRepo) ByID(_ context.Context, id uint) (*models.SequenceEnrollment, error) {
	return r.s.enrollment(id), nil
}

func (r fakeEnrollmentRepo) ByFilter(_ context.Context, f models.SequenceEnrollmentFilter, _ string, limit, offset int) ([]*models.SequenceEnrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SequenceEnrollment
	for _, e := range r.s.enrollments {
		switch {
		case f.ID != nil && e.ID != *f.ID:
			continue
		case f.SequenceID != nil && e.SequenceID != *f.SequenceID:
			continue
		case f.OwnerID != nil && e.OwnerID != *f.OwnerID:
			continue
		case f.Recipient != nil && e.Recipient != *f.Recipient:
			continue
		case f.Status != nil && e.Status != *f.Status:
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeEnrollmentRepo) Save(_ context.Context, e *models.SequenceEnrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.id()
	c := *e
	r.s.enrollments[e.ID] = &c
	return nil
}

func (r fakeEnrollmentRepo) SaveBatch(ctx context.Context, rows []*models.SequenceEnrollment) error {
	for _, e := range rows {
		_ = r.Save(ctx, e)
	}
	return nil
}

func (r fakeEnrollmentRepo) Count(ctx context.Context, f models.SequenceEnrollmentFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r fakeEnrollmentRepo) Exists(ctx context.Context, f models.SequenceEnrollmentFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r fakeEnrollmentRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.DueEnrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.DueEnrollment
	for _, e := range r.s.enrollments {
		if e.Status != models.EnrollmentStatusActive || e.NextStepDue == nil || e.NextStepDue.After(now) {
			continue
		}
		if utils.LeaseHeld(e.ClaimedUntil, now) {
			continue
		}
		seq, ok := r.s.sequences[e.SequenceID]
		if !ok || seq.Status != models.SequenceStatusActive {
			continue
		}
		for _, st := range r.s.steps {
			if st.SequenceID == e.SequenceID && st.StepOrder == e.CurrentStep+1 {
				out = append(out, &models.DueEnrollment{Enrollment: *e, Step: *st})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Enrollment.ID < out[j].Enrollment.ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeEnrollmentRepo) Claim(_ context.Context, id uint, expectedStep int, now, leaseUntil time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive || e.CurrentStep != expectedStep {
		return false, nil
	}
	if e.NextStepDue == nil || e.NextStepDue.After(now) {
		return false, nil
	}
	if utils.LeaseHeld(e.ClaimedUntil, now) {
		return false, nil
	}
	e.ClaimedUntil = &leaseUntil
	return true, nil
}

func (r fakeEnrollmentRepo) Release(_ context.Context, id uint, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.enrollments[id]; ok {
		e.ClaimedUntil = nil
		if lastError != "" {
			e.LastError = &lastError
		}
	}
	return nil
}

func (r fakeEnrollmentRepo) Advance(_ context.Context, id uint, expectedStep int, nextDue time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive || e.CurrentStep != expectedStep {
		return false, nil
	}
	e.CurrentStep++
	e.NextStepDue = &nextDue
	e.ClaimedUntil = nil
	e.LastError = nil
	return true, nil
}

func (r fakeEnrollmentRepo) Complete(_ context.Context, id uint, expectedStep int, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive || e.CurrentStep != expectedStep {
		return false, nil
	}
	e.CurrentStep++
	e.Status = models.EnrollmentStatusCompleted
	e.NextStepDue = nil
	e.ClaimedUntil = nil
	e.CompletedAt = &at
	return true, nil
}

func (r fakeEnrollmentRepo) Cancel(_ context.Context, id uint, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return false, nil
	}
	e.Status = models.EnrollmentStatusCancelled
	e.CancelledAt = &at
	e.NextStepDue = nil
	e.ClaimedUntil = nil
	return true, nil
}

func (r fakeEnrollmentRepo) CancelActiveForRecipient(_ context.Context, ownerID uint, email string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.enrollments {
		if e.OwnerID == ownerID && e.Recipient == email && e.Status == models.EnrollmentStatusActive {
			e.Status = models.EnrollmentStatusCancelled
			e.CancelledAt = &at
			e.NextStepDue = nil
			n++
		}
	}
	return n, nil
}

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// collaborators

type fakeTransport struct {
	mu   sync.Mutex
	sent []*services.OutboundMail
	err  error
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Send(_ context.Context, msg *services.OutboundMail) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) last() *services.OutboundMail {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

type fakeRouter struct {
	transport services.MailTransport
}

func (r fakeRouter) Route(*models.Owner) (services.MailTransport, error) {
	if r.transport == nil {
		return nil, services.ErrNoTransport
	}
	return r.transport, nil
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, time.Duration) { return true, 0 }

type fakePublisher struct {
	mu     sync.Mutex
	events []services.PushEvent
	owners []uint
}

func (p *fakePublisher) Publish(ownerID uint, event any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(services.PushEvent); ok {
		p.events = append(p.events, e)
		p.owners = append(p.owners, ownerID)
	}
	return true
}

type inlineTasks struct{ refuse bool }

func (t inlineTasks) TrySubmit(task services.BackgroundTask) bool {
	if t.refuse {
		return false
	}
	task(context.Background())
	return true
}

type fakeWebhooks struct {
	mu    sync.Mutex
	posts []string
}

func (w *fakeWebhooks) Post(_ context.Context, url string, _ any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posts = append(w.posts, url)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var errBoom = errors.New("boom")

func testTokens() services.TokenService {
	tokens, err := services.NewTokenService(time.Hour, 0, "trakpilot", "trakpilot-api", false, "", "", "unit-test-signing-secret-0123456789")
	if err != nil {
		panic(err)
	}
	return tokens
}
