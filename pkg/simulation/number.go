package simulation

import (
	"fmt"
	"regexp"
	"time"
)

const (
	proposalNumberPrefix = "CF"
	proposalDateLayout   = "20060102"
	sequenceModulus      = 10000
)

var proposalNumberPattern = regexp.MustCompile(`^CF-(\d{8})-\d{4}$`)

// BuildProposalNumber formats a proposal number as CF-YYYYMMDD-NNNN. The
// sequence wraps modulo 10000; uniqueness is the store's job.
func BuildProposalNumber(date time.Time, sequence int) string {
	seq := sequence % sequenceModulus
	if seq < 0 {
		seq += sequenceModulus
	}
	return fmt.Sprintf("%s-%04d", ProposalNumberDayPrefix(date), seq)
}

// ProposalNumberDayPrefix returns the "CF-YYYYMMDD" part shared by every
// number issued on date.
func ProposalNumberDayPrefix(date time.Time) string {
	return proposalNumberPrefix + "-" + date.Format(proposalDateLayout)
}

// ValidProposalNumber reports whether s is well formed and carries a real
// calendar date.
func ValidProposalNumber(s string) bool {
	m := proposalNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	_, err := time.Parse(proposalDateLayout, m[1])
	return err == nil
}
