package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies compliance-engine failures for callers and the API
// layer. Kinds are stable identifiers; messages are localized.
type ErrorKind string

const (
	KindRuleSchema             ErrorKind = "rule_schema"
	KindRateUnavailable        ErrorKind = "rate_unavailable"
	KindInvalidStateTransition ErrorKind = "invalid_state_transition"
	KindSignatureTooLarge      ErrorKind = "signature_too_large"
	KindSignatureBadFormat     ErrorKind = "signature_bad_format"
	KindTemplateMissing        ErrorKind = "template_missing"
	KindTemplateFieldUnmapped  ErrorKind = "template_field_unmapped"
	KindPersistence            ErrorKind = "persistence"
	KindNotFound               ErrorKind = "not_found"
)

// Error carries a kind and the three-way localized message surfaced to
// operators.
type Error struct {
	Kind    ErrorKind
	Message Message
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message.EN, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message.EN)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, or empty when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func newError(kind ErrorKind, msg Message, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ErrRuleSchema marks a malformed rule expression. The coordinator fails
// closed: the rule is skipped and a warning surfaced.
func ErrRuleSchema(detail string, err error) *Error {
	return newError(KindRuleSchema, Message{
		CN: "规则定义无效: " + detail,
		EN: "invalid rule definition: " + detail,
		TH: "นิยามกฎไม่ถูกต้อง: " + detail,
	}, err)
}

// ErrRateUnavailable marks a missing exchange-rate row. Callers must not
// substitute stale rates.
func ErrRateUnavailable(currency string) *Error {
	return newError(KindRateUnavailable, Message{
		CN: "缺少 " + currency + " 当日汇率",
		EN: "no exchange rate posted for " + currency,
		TH: "ไม่มีอัตราแลกเปลี่ยนของ " + currency + " สำหรับวันนี้",
	}, nil)
}

// ErrInvalidTransition marks a reservation audit that violates the state
// machine.
func ErrInvalidTransition(from, to ReservationStatus) *Error {
	return newError(KindInvalidStateTransition, Message{
		CN: fmt.Sprintf("预约状态不能从 %s 变为 %s", from, to),
		EN: fmt.Sprintf("reservation cannot move from %s to %s", from, to),
		TH: fmt.Sprintf("ไม่สามารถเปลี่ยนสถานะการจองจาก %s เป็น %s ได้", from, to),
	}, nil)
}

// ErrSignatureTooLarge rejects signature payloads over the size cap.
func ErrSignatureTooLarge(size, limit int) *Error {
	return newError(KindSignatureTooLarge, Message{
		CN: fmt.Sprintf("签名图片过大 (%d 字节, 上限 %d)", size, limit),
		EN: fmt.Sprintf("signature image too large (%d bytes, limit %d)", size, limit),
		TH: fmt.Sprintf("รูปลายเซ็นใหญ่เกินไป (%d ไบต์ จำกัด %d)", size, limit),
	}, nil)
}

// ErrSignatureBadFormat rejects payloads that are not PNG data URLs.
func ErrSignatureBadFormat() *Error {
	return newError(KindSignatureBadFormat, Message{
		CN: "签名必须是 PNG data URL",
		EN: "signature must be a PNG data URL",
		TH: "ลายเซ็นต้องเป็น PNG data URL",
	}, nil)
}

// ErrTemplateMissing marks an absent PDF template or field map.
func ErrTemplateMissing(reportType ReportType) *Error {
	return newError(KindTemplateMissing, Message{
		CN: "找不到 " + string(reportType) + " 的表格模板",
		EN: "no form template for " + string(reportType),
		TH: "ไม่พบแบบฟอร์มสำหรับ " + string(reportType),
	}, nil)
}

// ErrTemplateFieldUnmapped marks a form value with no physical field on the
// template.
func ErrTemplateFieldUnmapped(field string) *Error {
	return newError(KindTemplateFieldUnmapped, Message{
		CN: "字段 " + field + " 未映射到模板",
		EN: "field " + field + " is not mapped on the template",
		TH: "ฟิลด์ " + field + " ไม่ได้ถูกกำหนดไว้ในแบบฟอร์ม",
	}, nil)
}

// ErrPersistence wraps a storage failure that survived retries.
func ErrPersistence(err error) *Error {
	return newError(KindPersistence, Message{
		CN: "数据库操作失败",
		EN: "storage operation failed",
		TH: "การบันทึกข้อมูลล้มเหลว",
	}, err)
}

// ErrNotFound wraps a missing-record lookup.
func ErrNotFound(what string) *Error {
	return newError(KindNotFound, Message{
		CN: "找不到" + what,
		EN: what + " not found",
		TH: "ไม่พบ" + what,
	}, nil)
}
