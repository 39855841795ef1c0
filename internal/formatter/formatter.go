// package formatter renders media item listings as styled terminal text and exports them to files
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/shared"
)

// Listing is a titled sequence of items, such as one page of a category.
type Listing struct {
	Title   string             `json:"title"`
	Artwork string             `json:"artwork,omitempty"`
	Items   []models.MediaItem `json:"items"`
}

func liked(m models.MediaItem) string {
	if m.Liked == nil {
		return ""
	}
	return strconv.FormatBool(*m.Liked)
}

// ExportToCSV converts a listing to CSV with columns: ID, Kind, Title, Artist, Album, Duration, Liked
func ExportToCSV(l *Listing) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"ID", "Kind", "Title", "Artist", "Album", "Duration", "Liked"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, item := range l.Items {
		record := []string{
			item.ID,
			string(item.Kind),
			item.Title,
			item.Artist,
			item.Album,
			strconv.FormatInt(int64(item.Duration.Seconds()), 10),
			liked(item),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown converts a listing to Markdown with an optional cover image
func ExportToMarkdown(l *Listing, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", l.Title)
	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}
	fmt.Fprintf(&buf, "**Items**: %d\n\n", len(l.Items))

	buf.WriteString("## Items\n\n")
	for i, item := range l.Items {
		fmt.Fprintf(&buf, "%d. %s", i+1, describe(item))
		if d := shared.FormatDuration(item.Duration); d != "" {
			fmt.Fprintf(&buf, " [%s]", d)
		}
		if item.IsLiked() {
			buf.WriteString(" ♥")
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ExportToText converts a listing to plain text
func ExportToText(l *Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s\n", l.Title)
	fmt.Fprintf(&buf, "Items: %d\n\n", len(l.Items))
	for i, item := range l.Items {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, describe(item))
	}
	return buf.Bytes(), nil
}

// ExportToJSON encodes the listing, indented when pretty is set
func ExportToJSON(l *Listing, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(l, "", "  ")
	}
	return json.Marshal(l)
}

// describe renders "Artist - Title (Album)", leaving out empty parts.
func describe(item models.MediaItem) string {
	s := item.Title
	if item.Artist != "" {
		s = item.Artist + " - " + s
	}
	if item.Album != "" {
		s += " (" + item.Album + ")"
	}
	return s
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL provided", shared.ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewRemoteError(resp.StatusCode, url, "")
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return imageData, nil
}

// Format names an export format.
type Format string

const (
	FormatText     Format = "txt"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatCSV, FormatMarkdown, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (want txt, csv, md or json)", shared.ErrInvalidInput, s)
}

// ExportResult lists the files written by [WriteExport].
type ExportResult struct {
	Files      []string
	CoverImage string
}

// WriteExport writes the listing to dir as listing.{format}.
//
// Markdown exports also try to save the listing artwork as cover.jpg next to the document;
// a failed download is reported through warn and the document is written without it.
func WriteExport(ctx context.Context, client *http.Client, l *Listing, format Format, dir string, warn func(error)) (*ExportResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &ExportResult{}

	var data []byte
	var err error
	switch format {
	case FormatCSV:
		data, err = ExportToCSV(l)
	case FormatJSON:
		data, err = ExportToJSON(l, true)
	case FormatMarkdown:
		cover := ""
		if l.Artwork != "" && client != nil {
			if img, derr := DownloadImage(ctx, client, l.Artwork); derr != nil {
				warn(derr)
			} else {
				path := filepath.Join(dir, "cover.jpg")
				if werr := os.WriteFile(path, img, 0644); werr != nil {
					warn(werr)
				} else {
					cover = "cover.jpg"
					result.CoverImage = path
					result.Files = append(result.Files, path)
				}
			}
		}
		data, err = ExportToMarkdown(l, cover)
	default:
		data, err = ExportToText(l)
		format = FormatText
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", format, err)
	}

	path := filepath.Join(dir, "listing."+string(format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	result.Files = append(result.Files, path)
	return result, nil
}
