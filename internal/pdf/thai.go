package pdf

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Checkmark drawn into checkbox fields.
const Checkmark = "✓"

var thaiMonths = [...]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

var thaiDigits = [...]string{
	"ศูนย์", "หนึ่ง", "สอง", "สาม", "สี่", "ห้า", "หก", "เจ็ด", "แปด", "เก้า",
}

var thaiPositions = [...]string{"", "สิบ", "ร้อย", "พัน", "หมื่น", "แสน"}

// BuddhistYear converts a Gregorian year to the Buddhist era used on every
// AMLO date field.
func BuddhistYear(t time.Time) int {
	return t.Year() + 543
}

// FormatThaiDate renders "14 มีนาคม 2569".
func FormatThaiDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), thaiMonths[t.Month()-1], BuddhistYear(t))
}

// FormatAmount renders a monetary value as #,##0.00.
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}

// BahtText renders an amount as Thai words: "สองล้านบาทถ้วน",
// "หนึ่งพันสองร้อยห้าสิบบาทยี่สิบห้าสตางค์".
func BahtText(d decimal.Decimal) string {
	var b strings.Builder
	if d.IsNegative() {
		b.WriteString("ลบ")
		d = d.Abs()
	}

	d = d.RoundBank(2)
	baht := d.Truncate(0)
	satang := d.Sub(baht).Mul(decimal.NewFromInt(100)).IntPart()

	b.WriteString(readThaiNumber(baht.String()))
	b.WriteString("บาท")
	if satang == 0 {
		b.WriteString("ถ้วน")
	} else {
		b.WriteString(readThaiNumber(fmt.Sprintf("%d", satang)))
		b.WriteString("สตางค์")
	}
	return b.String()
}

// readThaiNumber reads a non-negative integer string in Thai, applying the
// เอ็ด/ยี่/สิบ irregularities and the recursive ล้าน grouping per six digits.
func readThaiNumber(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return thaiDigits[0]
	}
	if len(s) > 6 {
		head := s[:len(s)-6]
		tail := s[len(s)-6:]
		out := readThaiNumber(head) + "ล้าน"
		if rest := strings.TrimLeft(tail, "0"); rest != "" {
			out += readThaiNumber(rest)
		}
		return out
	}

	var b strings.Builder
	n := len(s)
	for i, r := range s {
		digit := int(r - '0')
		pos := n - i - 1
		if digit == 0 {
			continue
		}
		switch {
		case pos == 0 && digit == 1 && n > 1:
			b.WriteString("เอ็ด")
		case pos == 1 && digit == 1:
			b.WriteString("สิบ")
		case pos == 1 && digit == 2:
			b.WriteString("ยี่สิบ")
		default:
			b.WriteString(thaiDigits[digit])
			b.WriteString(thaiPositions[pos])
		}
	}
	return b.String()
}
