// Package reservation implements the pre-transaction reservation lifecycle:
// creation, audit state machine, signature capture and completion.
package reservation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/sequence"
)

// SignatureMaxBytes caps the decoded PNG payload of one signature box.
const SignatureMaxBytes = 500 * 1024

const signaturePrefix = "data:image/png;base64,"

const (
	maxPageSize     = 100
	defaultPageSize = 20

	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// transitions is the reservation state machine. Completed has no outgoing
// edges.
var transitions = map[domain.ReservationStatus]map[domain.ReservationStatus]bool{
	domain.ReservationPending: {
		domain.ReservationApproved: true,
		domain.ReservationRejected: true,
	},
	domain.ReservationApproved: {
		domain.ReservationCompleted: true,
		domain.ReservationPending:   true,
	},
	domain.ReservationRejected: {
		domain.ReservationPending: true,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.ReservationStatus) bool {
	return transitions[from][to]
}

// Store manages reservations on top of the repository and publishes
// lifecycle events.
type Store struct {
	repo   domain.Repository
	seq    *sequence.Service
	bus    domain.EventBus
	clock  domain.Clock
	logger *slog.Logger
}

// NewStore creates a reservation store.
func NewStore(repo domain.Repository, seq *sequence.Service, bus domain.EventBus, clock domain.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		seq:    seq,
		bus:    bus,
		clock:  clock,
		logger: logger.With("component", "reservation"),
	}
}

// Create opens a pending reservation for a triggered report family,
// pre-filled from the fact snapshot.
func (s *Store) Create(ctx context.Context, reportType domain.ReportType, fact *domain.Fact, formData map[string]any, operatorID string) (*domain.Reservation, error) {
	no, err := s.seq.ReservationNo(ctx, reportType, fact.BranchID)
	if err != nil {
		return nil, err
	}

	if formData == nil {
		formData = make(map[string]any)
	}
	r := &domain.Reservation{
		ID:            uuid.New().String(),
		ReservationNo: no,
		ReportType:    reportType,
		BranchID:      fact.BranchID,
		OperatorID:    operatorID,
		CustomerRef:   fact.CustomerID,
		FormData:      formData,
		Direction:     fact.Direction,
		Amount:        fact.AmountForeign,
		LocalAmount:   fact.AmountLocal,
		Status:        domain.ReservationPending,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.withRetry(ctx, func() error {
		return s.repo.SaveReservation(ctx, r)
	}); err != nil {
		return nil, err
	}

	s.publish(ctx, r.BranchID, domain.TopicReservationCreated, r)
	s.logger.Info("reservation created",
		"reservation_no", r.ReservationNo,
		"report_type", r.ReportType,
		"branch_id", r.BranchID)
	return r, nil
}

// Audit applies an approve, reject or revert action. Rejection requires a
// reason; invalid transitions are refused verbatim.
func (s *Store) Audit(ctx context.Context, id string, action domain.AuditAction, auditor, note, rejectionReason string) (*domain.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var target domain.ReservationStatus
	switch action {
	case domain.AuditApprove:
		target = domain.ReservationApproved
	case domain.AuditReject:
		if rejectionReason == "" {
			return nil, domain.ErrInvalidTransition(r.Status, domain.ReservationRejected)
		}
		target = domain.ReservationRejected
	case domain.AuditRevert:
		target = domain.ReservationPending
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}

	if !CanTransition(r.Status, target) {
		return nil, domain.ErrInvalidTransition(r.Status, target)
	}

	now := s.clock.Now()
	r.Status = target
	r.AuditNote = note
	r.AuditedAt = &now
	r.AuditedBy = auditor
	if target == domain.ReservationRejected {
		r.RejectionReason = rejectionReason
	} else {
		r.RejectionReason = ""
	}

	if err := s.withRetry(ctx, func() error {
		return s.repo.UpdateReservation(ctx, r)
	}); err != nil {
		return nil, err
	}

	s.publish(ctx, r.BranchID, domain.TopicReservationAudited, r)
	s.logger.Info("reservation audited",
		"reservation_no", r.ReservationNo,
		"action", action,
		"status", r.Status,
		"auditor", auditor)
	return r, nil
}

// AttachSignature validates and stores one signature box. Payloads must be
// PNG data URLs with at most SignatureMaxBytes of decoded image data.
// Re-attaching replaces the image and refreshes its timestamp.
func (s *Store) AttachSignature(ctx context.Context, id string, kind domain.SignatureKind, payload string) (*domain.Reservation, error) {
	switch kind {
	case domain.SignatureReporter, domain.SignatureCustomer, domain.SignatureAuditor:
	default:
		return nil, fmt.Errorf("unknown signature kind %q", kind)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == domain.ReservationCompleted {
		return nil, domain.ErrInvalidTransition(r.Status, r.Status)
	}

	if !strings.HasPrefix(payload, signaturePrefix) {
		return nil, domain.ErrSignatureBadFormat()
	}
	encoded := payload[len(signaturePrefix):]
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.ErrSignatureBadFormat()
	}
	if len(decoded) > SignatureMaxBytes {
		return nil, domain.ErrSignatureTooLarge(len(decoded), SignatureMaxBytes)
	}

	if r.Signatures == nil {
		r.Signatures = make(map[domain.SignatureKind]string)
	}
	if r.SignatureTimes == nil {
		r.SignatureTimes = make(map[domain.SignatureKind]time.Time)
	}
	r.Signatures[kind] = encoded
	r.SignatureTimes[kind] = s.clock.Now()

	if err := s.withRetry(ctx, func() error {
		return s.repo.UpdateReservation(ctx, r)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Complete finalizes an approved reservation against a committed
// transaction. Completing an already-completed reservation with the same
// transaction reference is a no-op; any other re-completion is refused.
func (s *Store) Complete(ctx context.Context, id, transactionRef string) (*domain.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.Status == domain.ReservationCompleted {
		if r.TransactionRef == transactionRef {
			return r, nil
		}
		return nil, domain.ErrInvalidTransition(r.Status, domain.ReservationCompleted)
	}
	if !CanTransition(r.Status, domain.ReservationCompleted) {
		return nil, domain.ErrInvalidTransition(r.Status, domain.ReservationCompleted)
	}

	r.Status = domain.ReservationCompleted
	r.TransactionRef = transactionRef

	if err := s.withRetry(ctx, func() error {
		return s.repo.UpdateReservation(ctx, r)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("reservation completed",
		"reservation_no", r.ReservationNo,
		"transaction_ref", transactionRef)
	return r, nil
}

// Get loads one reservation.
func (s *Store) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrNotFound("reservation")
	}
	return r, nil
}

// List returns a page of reservations. Page numbers start at 1; the page
// size is clamped to [1, 100].
func (s *Store) List(ctx context.Context, f domain.ReservationFilter, page, pageSize int) (*domain.ReservationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.repo.ListReservations(ctx, f, page, pageSize)
}

// withRetry runs a storage write with bounded backoff; exhaustion surfaces
// as a persistence error.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		// Domain errors are deterministic; retrying cannot help.
		if domain.KindOf(err) != "" && !domain.IsKind(err, domain.KindPersistence) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return domain.ErrPersistence(err)
}

func (s *Store) publish(ctx context.Context, branchID, topic string, r *domain.Reservation) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, branchID, topic, payload); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
