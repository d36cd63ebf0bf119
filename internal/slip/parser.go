// internal/slip/parser.go
package slip

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
)

var (
	payCodeRe      = regexp.MustCompile(`(?i)\bPAY-?([A-Z0-9]{6})\b`)
	payCodeLooseRe = regexp.MustCompile(`(?i)\bPAY[\s_.:-]*([A-Z0-9]{6})\b`)
	remarksRe      = labelRegexp("remarks", "remark", "purpose", "message", "narration")

	currencyAmountRe = regexp.MustCompile(`(?i)\b(MVR|USDT|USD|EUR|GBP|INR|RF)\.?\s*([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]+(?:\.[0-9]{1,2})?)\b`)
	bareAmountRe     = regexp.MustCompile(`\b([0-9]{1,3}(?:,[0-9]{3})*\.[0-9]{2})\b`)

	successKeywordRe = regexp.MustCompile(`(?i)\bsuc{1,2}es{1,2}ful(?:ly)?\b`)
)

// Parse extracts whatever it can from OCR text. It never fails; fields that
// cannot be located are nil and Bank is UNKNOWN when no bank is recognised.
func Parse(text string) *domain.ParsedSlip {
	lines := splitLines(text)
	joined := strings.Join(lines, "\n")

	out := &domain.ParsedSlip{
		Bank:           domain.BankUnknown,
		RawText:        text,
		SuccessKeyword: successKeywordRe.MatchString(joined),
	}

	format := detectBank(strings.ToLower(joined))
	if format != nil {
		out.Bank = format.tag
	}

	out.PayCode = findPayCode(lines, joined, format)
	out.Amount, out.Currency = findAmount(joined)

	if format == nil {
		return out
	}

	if v := format.status(lines); v != nil {
		out.Status = normaliseStatus(*v)
	}
	out.Reference = format.reference(lines)
	out.TransactionAt = format.transaction(lines)
	out.ValueDateAt = format.valueDate(lines)
	out.SenderName = format.sender(lines)

	receiver := format.receiver(lines)
	out.ReceiverName = receiver.name
	out.ReceiverAccount = receiver.account

	return out
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func findPayCode(lines []string, joined string, format *bankFormat) *string {
	if remarks := findLabelled(remarksRe, lines); remarks != nil {
		if code := matchPayCode(payCodeRe, *remarks); code != nil {
			return code
		}
	}
	if code := matchPayCode(payCodeRe, joined); code != nil {
		return code
	}
	if format != nil {
		if label := format.payCodeLabel(lines); label != nil {
			return matchPayCode(payCodeLooseRe, *label)
		}
	}
	return nil
}

func matchPayCode(re *regexp.Regexp, s string) *string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	code := "PAY-" + strings.ToUpper(m[1])
	return &code
}

func findAmount(joined string) (*decimal.Decimal, *string) {
	if m := currencyAmountRe.FindStringSubmatch(joined); m != nil {
		if amt, ok := parseAmount(m[2]); ok {
			cur := strings.ToUpper(m[1])
			if cur == "RF" {
				cur = "MVR"
			}
			return &amt, &cur
		}
	}
	if m := bareAmountRe.FindStringSubmatch(joined); m != nil {
		if amt, ok := parseAmount(m[1]); ok {
			return &amt, nil
		}
	}
	return nil, nil
}

func parseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func normaliseStatus(v string) *domain.SlipStatus {
	lower := strings.ToLower(v)
	var s domain.SlipStatus
	switch {
	case successKeywordRe.MatchString(lower),
		strings.Contains(lower, "success"),
		strings.Contains(lower, "complete"):
		s = domain.SlipSuccess
	case strings.Contains(lower, "fail"),
		strings.Contains(lower, "reject"),
		strings.Contains(lower, "declin"):
		s = domain.SlipFailed
	case strings.Contains(lower, "pend"),
		strings.Contains(lower, "process"):
		s = domain.SlipPending
	default:
		return nil
	}
	return &s
}
