// Package scan walks a filesystem tree and classifies media files by
// extension into plan candidates for admission.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/encodefleet/encodefleet/internal/models"
)

// Fixed extension sets per media type. Extensions are matched
// case-insensitively and without the leading dot.
var (
	audioExtensions = map[string]struct{}{
		"mp3": {}, "wav": {}, "flac": {}, "aac": {}, "m4a": {},
		"ogg": {}, "opus": {}, "wma": {}, "aiff": {}, "alac": {},
	}
	videoExtensions = map[string]struct{}{
		"mp4": {}, "mkv": {}, "mov": {}, "avi": {}, "webm": {}, "m4v": {},
	}
	imageExtensions = map[string]struct{}{
		"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "tiff": {},
		"bmp": {}, "heic": {}, "heif": {}, "avif": {},
	}
)

// Classify returns the media type for a file path based on its extension.
// The second result is false for unrecognized extensions.
func Classify(path string) (models.MediaType, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if _, ok := audioExtensions[ext]; ok {
		return models.MediaTypeAudio, true
	}
	if _, ok := videoExtensions[ext]; ok {
		return models.MediaTypeVideo, true
	}
	if _, ok := imageExtensions[ext]; ok {
		return models.MediaTypeImage, true
	}
	return "", false
}

// Entry is one matched file from a scan.
type Entry struct {
	SourcePath   string           `json:"sourcePath"`
	RelativePath string           `json:"relativePath"`
	MediaType    models.MediaType `json:"mediaType"`
	SizeBytes    int64            `json:"sizeBytes"`
}

// Walk scans root recursively and returns the media files found, filtered
// to the requested media types (empty filter = all three). Unreadable
// entries below the root are skipped rather than failing the scan.
func Walk(root string, types []models.MediaType) ([]Entry, error) {
	filter := make(map[models.MediaType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		mediaType, ok := Classify(path)
		if !ok {
			return nil
		}
		if len(filter) > 0 {
			if _, want := filter[mediaType]; !want {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		entries = append(entries, Entry{
			SourcePath:   path,
			RelativePath: filepath.ToSlash(rel),
			MediaType:    mediaType,
			SizeBytes:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return entries, nil
}
