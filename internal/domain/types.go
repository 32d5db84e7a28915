package domain

import "time"

// GapSize classifies how much shelf area a detected gap covers.
type GapSize string

const (
	GapSizeSmall  GapSize = "small"
	GapSizeMedium GapSize = "medium"
	GapSizeLarge  GapSize = "large"
)

// Valid reports whether the gap size is one of the known classes.
func (g GapSize) Valid() bool {
	switch g {
	case GapSizeSmall, GapSizeMedium, GapSizeLarge:
		return true
	}
	return false
}

// GapEvent is the normalized record of a detected shelf anomaly.
// SourceDetectionID is a stable identifier of the originating detection
// and serves as the idempotency key for the whole pipeline: redelivering
// the same event must never produce a second alert or reorder.
type GapEvent struct {
	ProductName       string    `json:"product_name"`
	DetectedGapSize   GapSize   `json:"detected_gap_size"`
	ShelfID           string    `json:"shelf_id"`
	ObservedAt        time.Time `json:"observed_at"`
	SourceDetectionID string    `json:"source_detection_id"`
}

// Validate checks the required fields of an inbound event.
func (e *GapEvent) Validate() error {
	if e.ProductName == "" {
		return ErrMalformedEvent("product_name is required")
	}
	if !e.DetectedGapSize.Valid() {
		return ErrMalformedEvent("detected_gap_size must be small, medium or large")
	}
	if e.ShelfID == "" {
		return ErrMalformedEvent("shelf_id is required")
	}
	if e.SourceDetectionID == "" {
		return ErrMalformedEvent("source_detection_id is required")
	}
	return nil
}

// ActionKind is the inventory action chosen by the decision engine.
type ActionKind string

const (
	ActionAlert    ActionKind = "alert"
	ActionReorder  ActionKind = "reorder"
	ActionNoAction ActionKind = "no_action"
)

// Valid reports whether the action is one of the known kinds.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionAlert, ActionReorder, ActionNoAction:
		return true
	}
	return false
}

// Decision is the structured output of one decision engine run.
// Invariant: Action is reorder only when the last known stock level was
// zero, and alert only when it was positive.
type Decision struct {
	Action      ActionKind `json:"action"`
	ProductName string     `json:"product"`
	Quantity    int        `json:"quantity"`
	UserID      int64      `json:"user_id"`
	Rationale   string     `json:"rationale,omitempty"`
}

// ProductStockInfo is a read-only stock snapshot returned by the
// query_stock tool. It is always fetched fresh, never cached.
type ProductStockInfo struct {
	ProductID       int64  `json:"product_id"`
	QuantityInStore int    `json:"quantity_in_store"`
	Shelf           string `json:"shelf"`
	Aisle           string `json:"aisle"`
}

// ToolInvocation records the single tool round inside one engine run.
// It is transient; at most one exists per decision.
type ToolInvocation struct {
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ApplyResult describes the outcome of applying a decision.
type ApplyResult struct {
	AlreadyApplied bool  `json:"already_applied"`
	NoAction       bool  `json:"no_action"`
	ProductID      int64 `json:"product_id,omitempty"`
	AlertID        int64 `json:"alert_id,omitempty"`
	ReorderID      int64 `json:"reorder_id,omitempty"`
}
