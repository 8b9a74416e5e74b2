package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a pre-transaction reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationApproved  ReservationStatus = "approved"
	ReservationRejected  ReservationStatus = "rejected"
	ReservationCompleted ReservationStatus = "completed"
)

// SignatureKind names the three signature boxes on a reservation form.
type SignatureKind string

const (
	SignatureReporter SignatureKind = "reporter"
	SignatureCustomer SignatureKind = "customer"
	SignatureAuditor  SignatureKind = "auditor"
)

// Reservation is a pre-transaction form bound to a prospective trigger.
// Once completed, form data and signatures are immutable.
type Reservation struct {
	ID            string     `json:"id"`
	ReservationNo string     `json:"reservation_no"`
	ReportType    ReportType `json:"report_type"`
	BranchID      string     `json:"branch_id"`
	OperatorID    string     `json:"operator_id"`
	CustomerRef   string     `json:"customer_ref"`

	FormData    map[string]any  `json:"form_data"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	LocalAmount decimal.Decimal `json:"local_amount"`

	Status          ReservationStatus `json:"status"`
	AuditNote       string            `json:"audit_note,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`

	// Signatures are base64 PNG payloads keyed by kind, with the time each
	// one was attached.
	Signatures     map[SignatureKind]string    `json:"signatures,omitempty"`
	SignatureTimes map[SignatureKind]time.Time `json:"signature_timestamps,omitempty"`

	TransactionRef string     `json:"transaction_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AuditedAt      *time.Time `json:"audited_at,omitempty"`
	AuditedBy      string     `json:"audited_by,omitempty"`
}

// AuditAction is the operation requested on a pending or audited reservation.
type AuditAction string

const (
	AuditApprove AuditAction = "approve"
	AuditReject  AuditAction = "reject"
	AuditRevert  AuditAction = "revert"
)

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	BranchID    string
	ReportType  ReportType
	Status      ReservationStatus
	CustomerRef string
}

// ReservationPage is one page of a reservation listing.
type ReservationPage struct {
	Items    []*Reservation `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int64          `json:"total"`
}
