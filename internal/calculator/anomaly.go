package calculator

import (
	"fmt"
	"strings"
)

// AnomalyKind classifies a record the engine skipped or ignored.
type AnomalyKind string

const (
	AnomalyDanglingItem      AnomalyKind = "dangling_item"
	AnomalySelfTarget        AnomalyKind = "self_target"
	AnomalyUnknownMember     AnomalyKind = "unknown_member"
	AnomalyCustomSumMismatch AnomalyKind = "custom_sum_mismatch"
	AnomalyInvalidQuantity   AnomalyKind = "invalid_quantity"
	AnomalyInvalidAssignment AnomalyKind = "invalid_assignment"
	AnomalyUnknownPayer      AnomalyKind = "unknown_payer"
	AnomalyInvalidPayment    AnomalyKind = "invalid_payment"
)

// DataAnomaly is a warning-level report about one malformed record.
// Anomalies never abort a computation; callers decide whether to surface them.
type DataAnomaly struct {
	Kind      AnomalyKind
	ReceiptID string
	ItemID    string
	PaymentID string
	MemberID  string
	Detail    string
}

func (a DataAnomaly) String() string {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	for _, kv := range [][2]string{
		{"receipt", a.ReceiptID},
		{"item", a.ItemID},
		{"payment", a.PaymentID},
		{"member", a.MemberID},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	if a.Detail != "" {
		b.WriteString(": ")
		b.WriteString(a.Detail)
	}
	return b.String()
}
