package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		kind    VariantKind
		width   int
		quality int
	}{
		{VariantDesktop, 1920, 90},
		{VariantMobile, 720, 85},
		{VariantLowQuality, 480, 60},
	}
	for _, tt := range tests {
		p, err := ProfileFor(tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.width, p.TargetWidth)
		assert.Equal(t, tt.quality, p.Quality)
	}

	_, err := ProfileFor("thumbnail")
	require.Error(t, err)
}

func TestCompletionTopics(t *testing.T) {
	assert.Equal(t, "desktop-resize-complete", CompletionTopic(VariantDesktop))
	assert.Equal(t, "mobile-resize-complete", CompletionTopic(VariantMobile))
	assert.Equal(t, "lowquality-resize-complete", CompletionTopic(VariantLowQuality))
}

func TestCompletionEventJSONShape(t *testing.T) {
	ev := CompletionEvent{
		UploadRecord: UploadRecord{
			CorrelationID:      "c1",
			OriginalFilename:   "photo.png",
			UniqueFilename:     "photo_u1.png",
			Format:             FormatPNG,
			OriginalStorageKey: "originals/photo_u1.png",
			OriginalURL:        "http://x/originals/photo_u1.png",
			UploadedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		ResizeType:       VariantDesktop,
		OutputStorageKey: "desktop/photo_u1-desktop.png",
		OutputURL:        "http://x/desktop/photo_u1-desktop.png",
		CompletedAt:      time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	// The wire format is flat: ingestion fields plus the completion fields.
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, field := range []string{
		"correlationId", "originalFilename", "uniqueFilename", "format",
		"originalStorageKey", "originalUrl", "uploadedAt",
		"resizeType", "outputStorageKey", "outputUrl", "completedAt",
	} {
		assert.Contains(t, m, field)
	}
	assert.Equal(t, "desktop", m["resizeType"])
	assert.Equal(t, "2026-01-02T03:04:05Z", m["uploadedAt"])
}

func TestStatusFlagsAndRemaining(t *testing.T) {
	var s ProcessingStatus
	assert.False(t, s.AllComplete())
	assert.Len(t, s.Remaining(), 3)

	s.SetFlag(VariantMobile)
	assert.True(t, s.Flag(VariantMobile))
	assert.Equal(t, []VariantKind{VariantDesktop, VariantLowQuality}, s.Remaining())

	s.SetFlag(VariantDesktop)
	s.SetFlag(VariantLowQuality)
	assert.True(t, s.AllComplete())
	assert.Empty(t, s.Remaining())
}
