// Package keys derives formats, unique filenames and storage key layouts
// from upload filenames. Everything here is pure string work.
package keys

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imagepipeline/internal/models"
)

// ErrUnsupportedFormat is returned for extensions outside jpg/jpeg/png/webp.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// StorageKeys is the deterministic set of object keys for one upload.
type StorageKeys struct {
	Original   string
	Desktop    string
	Mobile     string
	LowQuality string
}

// ForVariant returns the derivative key for the given kind.
func (k StorageKeys) ForVariant(kind models.VariantKind) string {
	switch kind {
	case models.VariantDesktop:
		return k.Desktop
	case models.VariantMobile:
		return k.Mobile
	case models.VariantLowQuality:
		return k.LowQuality
	}
	return ""
}

// ResolveFormat inspects the filename extension. It never defaults: anything
// outside the closed set fails with ErrUnsupportedFormat.
func ResolveFormat(filename string) (models.Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return models.FormatJPEG, nil
	case ".png":
		return models.FormatPNG, nil
	case ".webp":
		return models.FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// UniqueFilename appends a random suffix to the base name, keeping the
// extension: "photo.png" -> "photo_<uuid>.png". Uniqueness of everything
// derived downstream rests on this suffix.
func UniqueFilename(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	base := strings.TrimSuffix(originalFilename, ext)
	return fmt.Sprintf("%s_%s%s", base, uuid.New().String(), ext)
}

// DeriveStorageKeys yields the four object keys for a unique filename.
// Same input, same keys; no I/O.
func DeriveStorageKeys(uniqueFilename string) StorageKeys {
	ext := filepath.Ext(uniqueFilename)
	base := strings.TrimSuffix(uniqueFilename, ext)
	return StorageKeys{
		Original:   "originals/" + uniqueFilename,
		Desktop:    fmt.Sprintf("desktop/%s-desktop%s", base, ext),
		Mobile:     fmt.Sprintf("mobile/%s-mobile%s", base, ext),
		LowQuality: fmt.Sprintf("lowquality/%s-lowquality%s", base, ext),
	}
}

// ContentType maps a filename to its MIME type for object storage.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
