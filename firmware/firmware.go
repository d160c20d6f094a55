// Package firmware lists and downloads firmware images. The flasher only
// ever sees the raw bytes a Source returns.
package firmware

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxImageSize bounds downloads to the largest flash of the supported chips.
const MaxImageSize = 16 * 1024 * 1024

// Release is one downloadable image.
type Release struct {
	Name          string
	Version       string
	Description   string
	Size          int64
	Published     time.Time
	ChipType      string
	Compatibility []string

	// DownloadRef is opaque to callers and only meaningful to the Source
	// that listed the release.
	DownloadRef string
}

func (r Release) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", r.Name, r.Version, r.ChipType, FormatSize(r.Size))
}

// Source lists releases and fetches their contents.
type Source interface {
	List(ctx context.Context) ([]Release, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

var (
	chipPattern   = regexp.MustCompile(`(?i)(esp32[-_]?[csh]?[0-9]*)`)
	compatPattern = regexp.MustCompile(`(?i)compatibility[:\s]*([^\n\r]*)`)
	compatSplit   = regexp.MustCompile(`[,;]`)
)

// DefaultChipType is assumed when an asset name does not mention a chip.
const DefaultChipType = "ESP32-S3"

// ChipTypeFromName guesses the target chip from an asset file name.
func ChipTypeFromName(name string) string {
	m := chipPattern.FindStringSubmatch(name)
	if m == nil {
		return DefaultChipType
	}
	return strings.ToUpper(m[1])
}

// CompatibilityFromNotes extracts a "Compatibility: a, b" line from release notes.
func CompatibilityFromNotes(notes string) []string {
	m := compatPattern.FindStringSubmatch(notes)
	if m == nil {
		return nil
	}
	var out []string
	for _, item := range compatSplit.Split(m[1], -1) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func FormatSize(n int64) string {
	const k = 1024
	switch {
	case n < k:
		return fmt.Sprintf("%d B", n)
	case n < k*k:
		return fmt.Sprintf("%.2f KB", float64(n)/k)
	case n < k*k*k:
		return fmt.Sprintf("%.2f MB", float64(n)/(k*k))
	}
	return fmt.Sprintf("%.2f GB", float64(n)/(k*k*k))
}
