package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when no record exists for the given key.
var ErrNotFound = errors.New("record not found")

// Format is the image format of an upload, derived from the filename extension.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// VariantKind identifies one of the three derivative profiles. The set is
// closed: adding a variant means a redeploy.
type VariantKind string

const (
	VariantDesktop    VariantKind = "desktop"
	VariantMobile     VariantKind = "mobile"
	VariantLowQuality VariantKind = "lowquality"
)

// Variants returns all derivative kinds in a fixed order.
func Variants() []VariantKind {
	return []VariantKind{VariantDesktop, VariantMobile, VariantLowQuality}
}

// DerivativeProfile holds the resize parameters for one variant.
type DerivativeProfile struct {
	TargetWidth int
	Quality     int
}

// ProfileFor returns the static profile for a variant kind.
func ProfileFor(kind VariantKind) (DerivativeProfile, error) {
	switch kind {
	case VariantDesktop:
		return DerivativeProfile{TargetWidth: 1920, Quality: 90}, nil
	case VariantMobile:
		return DerivativeProfile{TargetWidth: 720, Quality: 85}, nil
	case VariantLowQuality:
		return DerivativeProfile{TargetWidth: 480, Quality: 60}, nil
	default:
		return DerivativeProfile{}, fmt.Errorf("unknown variant kind: %q", kind)
	}
}

// Event topics. One ingestion topic fans out to the three resize workers;
// each worker publishes on its own completion topic.
const (
	TopicImageSaved         = "image-saved"
	TopicProcessingComplete = "image-processing-complete"
)

// CompletionTopic returns the completion topic for a variant,
// e.g. "desktop-resize-complete".
func CompletionTopic(kind VariantKind) string {
	return string(kind) + "-resize-complete"
}

// UploadRecord describes one accepted upload. It is created by the ingestion
// entry point and never mutated afterwards; correlationId is the join key
// for the whole pipeline.
type UploadRecord struct {
	CorrelationID      string    `json:"correlationId"`
	OriginalFilename   string    `json:"originalFilename"`
	UniqueFilename     string    `json:"uniqueFilename"`
	Format             Format    `json:"format"`
	OriginalStorageKey string    `json:"originalStorageKey"`
	OriginalURL        string    `json:"originalUrl"`
	UploadedAt         time.Time `json:"uploadedAt"`
}

// CompletionEvent is emitted by a derivative worker after one successful
// production. Immutable once emitted.
type CompletionEvent struct {
	UploadRecord
	ResizeType       VariantKind `json:"resizeType"`
	OutputStorageKey string      `json:"outputStorageKey"`
	OutputURL        string      `json:"outputUrl"`
	CompletedAt      time.Time   `json:"completedAt"`
}

// ProcessingStatus is the per-correlation completion record. Flags are
// monotonic: once true they never revert. CompletedAt is set exactly once,
// when the third distinct flag becomes true.
type ProcessingStatus struct {
	CorrelationID      string     `json:"correlationId"`
	OriginalStorageKey string     `json:"originalStorageKey"`
	DesktopComplete    bool       `json:"desktopComplete"`
	MobileComplete     bool       `json:"mobileComplete"`
	LowQualityComplete bool       `json:"lowqualityComplete"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	// Notified marks the terminal notification as published. It is a claim
	// token for the aggregator, not part of the status payload.
	Notified bool `json:"-"`
}

func (s *ProcessingStatus) Flag(kind VariantKind) bool {
	switch kind {
	case VariantDesktop:
		return s.DesktopComplete
	case VariantMobile:
		return s.MobileComplete
	case VariantLowQuality:
		return s.LowQualityComplete
	}
	return false
}

func (s *ProcessingStatus) SetFlag(kind VariantKind) {
	switch kind {
	case VariantDesktop:
		s.DesktopComplete = true
	case VariantMobile:
		s.MobileComplete = true
	case VariantLowQuality:
		s.LowQualityComplete = true
	}
}

func (s *ProcessingStatus) AllComplete() bool {
	return s.DesktopComplete && s.MobileComplete && s.LowQualityComplete
}

// Remaining lists the variants whose flags are still false.
func (s *ProcessingStatus) Remaining() []VariantKind {
	var out []VariantKind
	for _, kind := range Variants() {
		if !s.Flag(kind) {
			out = append(out, kind)
		}
	}
	return out
}
