// Package resize implements the derivative workers. One Worker per variant;
// all three share this code and differ only by profile.
package resize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xwebp "golang.org/x/image/webp"

	"imagepipeline/internal/blob"
	"imagepipeline/internal/bus"
	"imagepipeline/internal/keys"
	"imagepipeline/internal/models"
)

// ProductionError wraps any fetch, transform or store failure for one
// variant. A failed variant never emits a completion event and never
// affects its siblings.
type ProductionError struct {
	Variant       models.VariantKind
	CorrelationID string
	Cause         error
}

func (e *ProductionError) Error() string {
	return fmt.Sprintf("derivative production failed: variant=%s correlationId=%s: %v",
		e.Variant, e.CorrelationID, e.Cause)
}

func (e *ProductionError) Unwrap() error { return e.Cause }

// Worker produces one derivative per ingestion event. It knows nothing of
// its sibling variants; re-running for the same correlationId overwrites
// the same derivative key with equivalent bytes.
type Worker struct {
	kind    models.VariantKind
	profile models.DerivativeProfile
	store   blob.Store
	bus     bus.Bus
}

func NewWorker(kind models.VariantKind, store blob.Store, b bus.Bus) (*Worker, error) {
	profile, err := models.ProfileFor(kind)
	if err != nil {
		return nil, err
	}
	return &Worker{kind: kind, profile: profile, store: store, bus: b}, nil
}

// Register subscribes the worker to the ingestion topic under its own
// group, so each variant receives every ingestion event rather than the
// three workers splitting one stream.
func (w *Worker) Register() {
	w.bus.Subscribe(models.TopicImageSaved, string(w.kind)+"-resize", w.handle)
}

func (w *Worker) handle(ctx context.Context, payload []byte) error {
	var rec models.UploadRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		// Malformed payloads are dropped, not redelivered.
		log.Printf("[resize:%s] dropping malformed ingestion event: %v", w.kind, err)
		return nil
	}

	event, err := w.Process(ctx, rec)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("resize.handle: %v", err)
	}
	return w.bus.Publish(ctx, models.CompletionTopic(w.kind), data)
}

// Process fetches the original, produces the derivative and stores it,
// returning the completion event to emit. At most one event per successful
// execution; on any failure no event exists at all.
func (w *Worker) Process(ctx context.Context, rec models.UploadRecord) (models.CompletionEvent, error) {
	start := time.Now()
	log.Printf("[resize:%s] starting: correlationId=%s key=%s",
		w.kind, rec.CorrelationID, rec.OriginalStorageKey)

	fail := func(err error) (models.CompletionEvent, error) {
		return models.CompletionEvent{}, &ProductionError{
			Variant:       w.kind,
			CorrelationID: rec.CorrelationID,
			Cause:         err,
		}
	}

	original, err := w.store.Get(ctx, rec.OriginalStorageKey)
	if err != nil {
		return fail(err)
	}

	src, err := decode(original, rec.Format)
	if err != nil {
		return fail(err)
	}

	resized := fitWidth(src, w.profile.TargetWidth)

	encoded, err := encode(resized, rec.Format, w.profile.Quality)
	if err != nil {
		return fail(err)
	}

	outputKey := keys.DeriveStorageKeys(rec.UniqueFilename).ForVariant(w.kind)
	contentType := keys.ContentType(rec.UniqueFilename)
	if err := w.store.Put(ctx, outputKey, contentType, encoded); err != nil {
		return fail(err)
	}

	log.Printf("[resize:%s] completed: correlationId=%s output=%s took=%s",
		w.kind, rec.CorrelationID, outputKey, time.Since(start))

	return models.CompletionEvent{
		UploadRecord:     rec,
		ResizeType:       w.kind,
		OutputStorageKey: outputKey,
		OutputURL:        w.store.URL(outputKey),
		CompletedAt:      time.Now().UTC(),
	}, nil
}

// fitWidth bounds the image to targetWidth, preserving aspect ratio and
// never enlarging past the original's dimensions.
func fitWidth(img image.Image, targetWidth int) image.Image {
	if img.Bounds().Dx() <= targetWidth {
		return img
	}
	return imaging.Resize(img, targetWidth, 0, imaging.Lanczos)
}

func decode(data []byte, format models.Format) (image.Image, error) {
	switch format {
	case models.FormatWebP:
		return xwebp.Decode(bytes.NewReader(data))
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	}
}

// encode re-encodes in the original format at the profile's quality.
// PNG is lossless, so quality does not apply there.
func encode(img image.Image, format models.Format, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch format {
	case models.FormatJPEG:
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
	case models.FormatPNG:
		if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	case models.FormatWebP:
		if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format: %q", format)
	}
	return buf.Bytes(), nil
}
