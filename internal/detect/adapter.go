// Package detect turns raw detection-model output into normalized gap
// events for the decision pipeline.
package detect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/domain"
)

// Gap size thresholds as a fraction of the full shelf image area.
// The lower bound of each class is inclusive.
const (
	mediumAreaFraction = 0.10
	largeAreaFraction  = 0.30
)

// Detection is a single bounding box from the detection model.
// Box is [x1, y1, x2, y2] in image pixel coordinates.
type Detection struct {
	Box        [4]float64 `json:"box"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
}

// RawDetection is the detection-model output for one shelf image,
// already flagged as a gap by the upstream step. The adapter does not
// re-derive the gap/present decision.
type RawDetection struct {
	DetectionID string      `json:"detection_id"`
	ShelfID     string      `json:"shelf_id"`
	ImageWidth  int         `json:"image_width"`
	ImageHeight int         `json:"image_height"`
	ObservedAt  time.Time   `json:"observed_at,omitempty"`
	Detections  []Detection `json:"detections"`
}

// Adapter normalizes raw detections into gap events. It is a pure
// transformation; the only side effect is logging dropped labels.
type Adapter struct {
	mapping *Mapping
	logger  *slog.Logger
}

// NewAdapter creates an adapter over the given label mapping.
func NewAdapter(mapping *Mapping, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{mapping: mapping, logger: logger}
}

// Normalize converts a raw detection into a GapEvent. Unmapped labels
// fail with an unknown product error and are logged for manual triage;
// they are not retried since the mapping is static.
func (a *Adapter) Normalize(raw RawDetection) (*domain.GapEvent, error) {
	if len(raw.Detections) == 0 {
		return nil, domain.ErrMalformedEvent("detection result contains no bounding boxes")
	}
	if raw.DetectionID == "" {
		return nil, domain.ErrMalformedEvent("detection_id is required")
	}
	if raw.ShelfID == "" {
		return nil, domain.ErrMalformedEvent("shelf_id is required")
	}
	if raw.ImageWidth <= 0 || raw.ImageHeight <= 0 {
		return nil, domain.ErrMalformedEvent("image dimensions must be positive")
	}

	det := raw.Detections[0]
	if det.Confidence < 0 || det.Confidence > 1 {
		return nil, domain.ErrMalformedEvent(fmt.Sprintf("confidence %v outside [0,1]", det.Confidence))
	}

	product, ok := a.mapping.Product(det.Label)
	if !ok {
		a.logger.Warn("dropping detection with unmapped label",
			slog.String("label", det.Label),
			slog.String("detection_id", raw.DetectionID),
			slog.String("shelf_id", raw.ShelfID),
		)
		return nil, domain.ErrUnknownProduct(det.Label)
	}

	observedAt := raw.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	return &domain.GapEvent{
		ProductName:       product,
		DetectedGapSize:   classifyGapSize(det.Box, raw.ImageWidth, raw.ImageHeight),
		ShelfID:           raw.ShelfID,
		ObservedAt:        observedAt,
		SourceDetectionID: raw.DetectionID,
	}, nil
}

// classifyGapSize buckets the bounding-box area relative to the full
// shelf image: under 10% small, 10-30% medium, 30% and above large.
func classifyGapSize(box [4]float64, imageWidth, imageHeight int) domain.GapSize {
	width := box[2] - box[0]
	height := box[3] - box[1]
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}

	fraction := (width * height) / (float64(imageWidth) * float64(imageHeight))
	switch {
	case fraction >= largeAreaFraction:
		return domain.GapSizeLarge
	case fraction >= mediumAreaFraction:
		return domain.GapSizeMedium
	default:
		return domain.GapSizeSmall
	}
}
