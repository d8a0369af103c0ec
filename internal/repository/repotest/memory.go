// Package repotest provides in-memory repositories for service and handler
// tests. They follow the same contracts as the postgres implementations,
// including the overlap re-check on appointment writes and conditional
// payment updates.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
)

// Appointments is an in-memory AppointmentRepository. Set Err to make every
// call fail.
type Appointments struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]model.Appointment
	Err   error
	Calls map[string]int
}

func NewAppointments(seed ...*model.Appointment) *Appointments {
	r := &Appointments{rows: map[uuid.UUID]model.Appointment{}, Calls: map[string]int{}}
	for _, apt := range seed {
		r.rows[apt.ID] = *apt
	}
	return r
}

func (r *Appointments) call(name string) error {
	r.Calls[name]++
	return r.Err
}

func (r *Appointments) overlaps(apt *model.Appointment, excludeID *uuid.UUID) bool {
	for _, other := range r.rows {
		if excludeID != nil && other.ID == *excludeID {
			continue
		}
		if other.StaffID != apt.StaffID || other.AppointmentDate != apt.AppointmentDate {
			continue
		}
		if other.Status.Occupies() && other.Slot().Overlaps(apt.Slot()) {
			return true
		}
	}
	return false
}

func (r *Appointments) Create(_ context.Context, apt *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Create"); err != nil {
		return err
	}
	if r.overlaps(apt, nil) {
		return repository.ErrSlotTaken
	}
	r.rows[apt.ID] = *apt
	return nil
}

func (r *Appointments) GetByID(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetByID"); err != nil {
		return nil, err
	}
	apt, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &apt, nil
}

func (r *Appointments) GetByPaymentIntent(_ context.Context, paymentIntentID string) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetByPaymentIntent"); err != nil {
		return nil, err
	}
	for _, apt := range r.rows {
		if apt.StripePaymentIntentID != nil && *apt.StripePaymentIntentID == paymentIntentID {
			apt := apt
			return &apt, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Appointments) List(_ context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("List"); err != nil {
		return nil, err
	}
	out := []*model.Appointment{}
	for _, apt := range r.rows {
		switch {
		case f.PatientID != nil && apt.PatientID != *f.PatientID,
			f.StaffID != nil && apt.StaffID != *f.StaffID,
			f.Status != "" && apt.Status != f.Status,
			f.StartDate != nil && apt.AppointmentDate.String() < f.StartDate.String(),
			f.EndDate != nil && apt.AppointmentDate.String() > f.EndDate.String():
			continue
		}
		apt := apt
		out = append(out, &apt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDate != out[j].AppointmentDate {
			return out[i].AppointmentDate.String() < out[j].AppointmentDate.String()
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r *Appointments) Update(_ context.Context, apt *model.Appointment, reschedule bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Update"); err != nil {
		return err
	}
	stored, ok := r.rows[apt.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if reschedule && r.overlaps(apt, &apt.ID) {
		return repository.ErrSlotTaken
	}
	payment := stored.Payment
	stored = *apt
	stored.Payment = payment
	r.rows[apt.ID] = stored
	return nil
}

func (r *Appointments) UpdatePayment(_ context.Context, apt *model.Appointment, expected model.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("UpdatePayment"); err != nil {
		return err
	}
	stored, ok := r.rows[apt.ID]
	if !ok || stored.PaymentStatus != expected {
		return repository.ErrStaleState
	}
	stored.Status = apt.Status
	stored.CancellationReason = apt.CancellationReason
	stored.Payment = apt.Payment
	r.rows[apt.ID] = stored
	return nil
}

func (r *Appointments) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Delete"); err != nil {
		return err
	}
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *Appointments) ListActiveForStaff(_ context.Context, staffID uuid.UUID, date schedule.Date, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListActiveForStaff"); err != nil {
		return nil, err
	}
	out := []*model.Appointment{}
	for _, apt := range r.rows {
		if apt.StaffID != staffID || apt.AppointmentDate != date || !apt.Status.Occupies() {
			continue
		}
		if excludeID != nil && apt.ID == *excludeID {
			continue
		}
		apt := apt
		out = append(out, &apt)
	}
	return out, nil
}

func (r *Appointments) CountByService(_ context.Context, serviceID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CountByService"); err != nil {
		return 0, err
	}
	n := 0
	for _, apt := range r.rows {
		if apt.ServiceID == serviceID {
			n++
		}
	}
	return n, nil
}

// Get returns the stored row without counting a call.
func (r *Appointments) Get(id uuid.UUID) (model.Appointment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apt, ok := r.rows[id]
	return apt, ok
}

// Len returns the number of stored rows.
func (r *Appointments) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Services is an in-memory ServiceRepository.
type Services struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Service
	Err  error
}

func NewServices(seed ...*model.Service) *Services {
	r := &Services{rows: map[uuid.UUID]model.Service{}}
	for _, svc := range seed {
		r.rows[svc.ID] = *svc
	}
	return r
}

func (r *Services) Create(_ context.Context, svc *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.rows[svc.ID] = *svc
	return nil
}

func (r *Services) GetByID(_ context.Context, id uuid.UUID) (*model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	svc, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &svc, nil
}

func (r *Services) List(_ context.Context, includeInactive bool) ([]*model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []*model.Service{}
	for _, svc := range r.rows {
		if !includeInactive && !svc.IsActive {
			continue
		}
		svc := svc
		out = append(out, &svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Services) Update(_ context.Context, svc *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[svc.ID]; !ok {
		return repository.ErrNotFound
	}
	svc.UpdatedAt = time.Now().UTC()
	r.rows[svc.ID] = *svc
	return nil
}

func (r *Services) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// Profiles is an in-memory ProfileRepository.
type Profiles struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Profile
	Err  error
}

func NewProfiles(seed ...*model.Profile) *Profiles {
	r := &Profiles{rows: map[uuid.UUID]model.Profile{}}
	for _, p := range seed {
		r.rows[p.ID] = *p
	}
	return r
}

func (r *Profiles) Create(_ context.Context, p *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[p.ID]; ok {
		return repository.ErrDuplicate
	}
	r.rows[p.ID] = *p
	return nil
}

func (r *Profiles) GetByID(_ context.Context, id uuid.UUID) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	p, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *Profiles) List(_ context.Context, f model.ProfileFilters) ([]*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []*model.Profile{}
	for _, p := range r.rows {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (r *Profiles) Update(_ context.Context, p *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[p.ID]; !ok {
		return repository.ErrNotFound
	}
	r.rows[p.ID] = *p
	return nil
}

// Availability is an in-memory AvailabilityRepository.
type Availability struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.StaffAvailability
	Err  error
}

func NewAvailability(seed ...*model.StaffAvailability) *Availability {
	r := &Availability{rows: map[uuid.UUID]model.StaffAvailability{}}
	for _, s := range seed {
		r.rows[s.ID] = *s
	}
	return r
}

func (r *Availability) Create(_ context.Context, slot *model.StaffAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.rows[slot.ID] = *slot
	return nil
}

func (r *Availability) GetByID(_ context.Context, id uuid.UUID) (*model.StaffAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	slot, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &slot, nil
}

func (r *Availability) List(_ context.Context, staffID *uuid.UUID, day model.DayOfWeek) ([]*model.StaffAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []*model.StaffAvailability{}
	for _, slot := range r.rows {
		if staffID != nil && slot.StaffID != *staffID {
			continue
		}
		if day != "" && slot.DayOfWeek != day {
			continue
		}
		slot := slot
		out = append(out, &slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *Availability) Update(_ context.Context, slot *model.StaffAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[slot.ID]; !ok {
		return repository.ErrNotFound
	}
	r.rows[slot.ID] = *slot
	return nil
}

func (r *Availability) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// WebhookEvents is an in-memory WebhookEventRepository.
type WebhookEvents struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewWebhookEvents() *WebhookEvents {
	return &WebhookEvents{seen: map[string]string{}}
}

func (r *WebhookEvents) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[provider+"/"+eventID]
	return ok, nil
}

func (r *WebhookEvents) MarkProcessed(_ context.Context, provider, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[provider+"/"+eventID] = eventType
	return nil
}

// Outbox is an in-memory OutboxRepository.
type Outbox struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
	Err    error
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (r *Outbox) Create(_ context.Context, e *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	now := time.Now().UTC()
	e.Status = model.OutboxStatusPending
	e.CreatedAt, e.UpdatedAt = now, now
	r.events = append(r.events, e)
	return nil
}

func (r *Outbox) ClaimPending(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	now := time.Now()
	out := []*model.OutboxEvent{}
	for _, e := range r.events {
		if len(out) == limit {
			break
		}
		due := e.RetryAt == nil || !e.RetryAt.After(now)
		if (e.Status == model.OutboxStatusPending || e.Status == model.OutboxStatusRetry) && due {
			e.Status = model.OutboxStatusProcessing
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Outbox) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now().UTC()
			e.Status = model.OutboxStatusProcessed
			e.ProcessedAt = &now
			e.ErrorMessage = nil
		}
	}
	return nil
}

func (r *Outbox) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Status = model.OutboxStatusFailed
			if retryAt != nil {
				e.Status = model.OutboxStatusRetry
			}
			msg := errMsg
			e.ErrorMessage = &msg
			e.RetryAt = retryAt
			e.RetryCount++
		}
	}
	return nil
}

func (r *Outbox) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

// Events returns the recorded outbox events.
func (r *Outbox) Events() []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.OutboxEvent(nil), r.events...)
}

// EventTypes lists recorded event types in insertion order.
func (r *Outbox) EventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.EventType)
	}
	return types
}

var (
	_ repository.AppointmentRepository  = (*Appointments)(nil)
	_ repository.ServiceRepository      = (*Services)(nil)
	_ repository.ProfileRepository      = (*Profiles)(nil)
	_ repository.AvailabilityRepository = (*Availability)(nil)
	_ repository.WebhookEventRepository = (*WebhookEvents)(nil)
	_ repository.OutboxRepository       = (*Outbox)(nil)
)
