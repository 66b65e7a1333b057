package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
)

type RefundStatus string

const (
	RefundRequested  RefundStatus = "requested"
	RefundApproved   RefundStatus = "approved"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundRequested:  {RefundApproved, RefundProcessing},
	RefundApproved:   {RefundProcessing},
	RefundProcessing: {RefundCompleted, RefundFailed},
}

func (s RefundStatus) CanTransitionTo(next RefundStatus) bool {
	for _, allowed := range refundTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Refund tracks one refund request against an order. The amount only counts
// toward the order's refunded total once the provider confirms completion;
// a failed refund releases its reserved amount back to the pool.
type Refund struct {
	ID          string         `db:"id" json:"id"`
	OrderID     string         `db:"order_id" json:"order_id"`
	AmountMinor int64          `db:"amount_minor" json:"amount_minor"`
	Status      RefundStatus   `db:"status" json:"status"`
	Reason      string         `db:"reason" json:"reason"`
	RequestedBy string         `db:"requested_by" json:"requested_by"`
	ApprovedBy  string         `db:"approved_by" json:"approved_by,omitempty"`
	ProviderRef string         `db:"provider_ref" json:"provider_ref,omitempty"`
	Created     types.DateTime `db:"created" json:"created"`
	Updated     types.DateTime `db:"updated" json:"updated"`
}
