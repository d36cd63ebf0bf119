// internal/slip/banks.go
package slip

import (
	"regexp"
	"strings"
	"time"

	"verification-service/internal/domain"
)

// bankLocal is the offset every supported bank prints its timestamps in.
var bankLocal = time.FixedZone("+05:00", 5*60*60)

// party is a name/account pair read from a sender or recipient line.
type party struct {
	name    *string
	account *string
}

// bankFormat describes how one bank lays out its transfer slips.
type bankFormat struct {
	tag     domain.BankFormat
	aliases *regexp.Regexp

	status       func(lines []string) *string
	reference    func(lines []string) *string
	transaction  func(lines []string) *time.Time
	valueDate    func(lines []string) *time.Time
	sender       func(lines []string) *string
	receiver     func(lines []string) party
	payCodeLabel func(lines []string) *string
}

// formats lists the supported banks. Table order only breaks ties.
var formats = []bankFormat{
	{
		tag:          domain.BankBML,
		aliases:      aliasRegexp("bank of maldives", "bankofmaldives", "bml"),
		status:       labelled("transaction status", "status"),
		reference:    labelled("reference no", "reference", "ref no", "ref"),
		transaction:  labelledTime(dateTimeLayouts, "transaction date", "date & time", "date"),
		valueDate:    labelledTime(dateLayouts, "value date"),
		sender:       nameOf(trailingAccount("from account", "from")),
		receiver:     trailingAccount("to account", "to"),
		payCodeLabel: labelled("narrative", "description"),
	},
	{
		tag:          domain.BankMIB,
		aliases:      aliasRegexp("maldives islamic bank", "islamic bank", "faisanet", "mib"),
		status:       labelled("transaction status", "status"),
		reference:    labelled("transaction reference", "reference no", "reference #", "reference", "ref #", "ref"),
		transaction:  labelledTime(dateTimeLayouts, "transaction date", "date & time", "date"),
		valueDate:    labelledTime(dateLayouts, "value date"),
		sender:       nameOf(leadingAccount("from account", "sender", "from")),
		receiver:     leadingAccount("to account", "beneficiary", "to"),
		payCodeLabel: labelled("description", "narrative"),
	},
}

// aliasRegexp matches any of aliases as whole words.
func aliasRegexp(aliases ...string) *regexp.Regexp {
	quoted := make([]string, len(aliases))
	for i, a := range aliases {
		quoted[i] = regexp.QuoteMeta(a)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// detectBank picks the bank named first in the text. Slips print the issuing
// bank in their header, while the counterparty's bank can appear further down.
func detectBank(joinedLower string) *bankFormat {
	var (
		best    *bankFormat
		bestPos = -1
	)
	for i := range formats {
		loc := formats[i].aliases.FindStringIndex(joinedLower)
		if loc == nil {
			continue
		}
		if best == nil || loc[0] < bestPos {
			best, bestPos = &formats[i], loc[0]
		}
	}
	return best
}

var (
	dateTimeLayouts = []string{
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006 03:04 PM",
		"02-01-2006 15:04:05",
		"02-01-2006 15:04",
		"02-01-2006 03:04 PM",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"02 Jan 2006 15:04:05",
		"02 Jan 2006 15:04",
		"02 Jan 2006 03:04 PM",
		"02/01/2006",
		"02-01-2006",
		"2006-01-02",
	}
	dateLayouts = []string{
		"02/01/2006",
		"02-01-2006",
		"2006-01-02",
		"02 Jan 2006",
	}
)

// ============================================================================
// Line matchers
// ============================================================================

// labelRegexp matches `^label[: ]` for any of labels, case-insensitive.
// Labels are tried in the order given, so longer ones go first.
func labelRegexp(labels ...string) *regexp.Regexp {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	return regexp.MustCompile(`(?i)^(?:` + strings.Join(quoted, "|") + `)\s*[: ]\s*(.*)$`)
}

func findLabelled(re *regexp.Regexp, lines []string) *string {
	for _, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(strings.TrimLeft(m[1], ":# "))
		if v == "" {
			continue
		}
		return &v
	}
	return nil
}

func labelled(labels ...string) func([]string) *string {
	re := labelRegexp(labels...)
	return func(lines []string) *string {
		return findLabelled(re, lines)
	}
}

func labelledTime(layouts []string, labels ...string) func([]string) *time.Time {
	re := labelRegexp(labels...)
	return func(lines []string) *time.Time {
		v := findLabelled(re, lines)
		if v == nil {
			return nil
		}
		return parseLocalTime(*v, layouts)
	}
}

// trailingAccount reads "NAME ... ACCOUNT": the last token is the account.
func trailingAccount(labels ...string) func([]string) party {
	re := labelRegexp(labels...)
	return func(lines []string) party {
		v := findLabelled(re, lines)
		if v == nil {
			return party{}
		}
		tokens := strings.Fields(*v)
		last := tokens[len(tokens)-1]
		switch {
		case !hasDigit(last):
			return party{name: v}
		case len(tokens) == 1:
			return party{account: &last}
		}
		name := strings.Join(tokens[:len(tokens)-1], " ")
		return party{name: &name, account: &last}
	}
}

// leadingAccount reads "ACCOUNT NAME ...": the first token is the account.
func leadingAccount(labels ...string) func([]string) party {
	re := labelRegexp(labels...)
	return func(lines []string) party {
		v := findLabelled(re, lines)
		if v == nil {
			return party{}
		}
		tokens := strings.Fields(strings.NewReplacer(" - ", " ", " | ", " ").Replace(*v))
		first := tokens[0]
		if !hasDigit(first) {
			return party{name: v}
		}
		if len(tokens) == 1 {
			return party{account: &first}
		}
		name := strings.Join(tokens[1:], " ")
		return party{name: &name, account: &first}
	}
}

func nameOf(read func([]string) party) func([]string) *string {
	return func(lines []string) *string {
		return read(lines).name
	}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}

// parseLocalTime tries each layout against successively shorter token
// prefixes of v so trailing noise ("MVT", "(Male)") does not defeat parsing.
func parseLocalTime(v string, layouts []string) *time.Time {
	fields := strings.Fields(v)
	for n := len(fields); n > 0; n-- {
		candidate := strings.Join(fields[:n], " ")
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, candidate, bankLocal); err == nil {
				return &t
			}
		}
	}
	return nil
}
