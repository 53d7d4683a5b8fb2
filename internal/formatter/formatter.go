// package formatter renders queues and listen history as tables and exports them to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/repositories"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// QueueExport is a titled list of tracks with the index of the current one.
type QueueExport struct {
	Title   string
	Current int
	Tracks  []models.Track
}

func trackDuration(t models.Track) string {
	if t.Duration < 0 {
		return shared.FormatDuration(-1)
	}
	return shared.FormatDuration(time.Duration(t.Duration) * time.Second)
}

func albumTitle(t models.Track) string {
	if t.Album == nil {
		return ""
	}
	return t.Album.Title
}

// ExportToCSV converts a QueueExport to CSV format with columns: ID, Title, Artist, Album, Duration, Explicit
func ExportToCSV(export *QueueExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Duration", "Explicit"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		record := []string{
			track.ID,
			track.Title,
			track.ArtistNames(),
			albumTitle(track),
			strconv.Itoa(track.Duration),
			strconv.FormatBool(track.Explicit),
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

// ExportToMarkdown converts a QueueExport to a Markdown list, marking the current track in bold.
func ExportToMarkdown(export *QueueExport) ([]byte, error) {
	var buf bytes.Buffer

	title := export.Title
	if title == "" {
		title = "Queue"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", len(export.Tracks))

	buf.WriteString("## Tracks\n\n")
	for i, track := range export.Tracks {
		albumPart := ""
		if album := albumTitle(track); album != "" {
			albumPart = fmt.Sprintf(" (%s)", album)
		}
		line := fmt.Sprintf("%s%s [%s]", track, albumPart, trackDuration(track))
		if i == export.Current {
			line = "**" + line + "**"
		}
		fmt.Fprintf(&buf, "%d. %s\n", i+1, line)
	}

	return buf.Bytes(), nil
}

// ExportToText converts a QueueExport to plain text format
func ExportToText(export *QueueExport) ([]byte, error) {
	var buf bytes.Buffer

	if export.Title != "" {
		fmt.Fprintf(&buf, "Queue: %s\n", export.Title)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		marker := "  "
		if i == export.Current {
			marker = "> "
		}
		fmt.Fprintf(&buf, "%s%d. %s\n", marker, i+1, track)
	}

	return buf.Bytes(), nil
}

// Export renders export in the named format: csv, md (markdown) or txt (text).
func Export(export *QueueExport, format string) ([]byte, error) {
	switch format {
	case "csv":
		return ExportToCSV(export)
	case "md", "markdown":
		return ExportToMarkdown(export)
	case "txt", "text":
		return ExportToText(export)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport writes export to path in the format implied by its extension.
func WriteExport(export *QueueExport, path string) error {
	format := filepath.Ext(path)
	if format == "" {
		return fmt.Errorf("%w: export path %q has no extension", shared.ErrInvalidArgument, path)
	}
	data, err := Export(export, format[1:])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// WriteQueueTable renders the queue as a table, highlighting the current track.
func WriteQueueTable(w io.Writer, export *QueueExport) {
	t := newTable(w)
	if export.Title != "" {
		t.SetTitle(export.Title)
	}
	t.AppendHeader(table.Row{"", "#", "Title", "Artist", "Album", "Length"})
	for i, track := range export.Tracks {
		marker := ""
		sprint := fmt.Sprint
		if i == export.Current {
			marker = "▶"
			sprint = text.FgGreen.Sprint
		}
		title := shared.Truncate(track.Title, 48)
		if track.Explicit {
			title += " 🅴"
		}
		t.AppendRow(table.Row{
			marker,
			i + 1,
			sprint(title),
			sprint(shared.Truncate(track.ArtistNames(), 32)),
			shared.Truncate(albumTitle(track), 32),
			trackDuration(track),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tracks", len(export.Tracks))})
	t.Render()
}

// WriteHistoryTable renders recorded listens, newest first.
func WriteHistoryTable(w io.Writer, entries []repositories.HistoryEntry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"When", "Title", "Artist", "Listened"})
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = text.FgHiBlack.Sprint(e.Event.TrackID)
		}
		t.AppendRow(table.Row{
			e.Event.Timestamp.Local().Format(time.DateTime),
			shared.Truncate(title, 48),
			shared.Truncate(e.Artists, 32),
			shared.FormatDuration(time.Duration(e.Event.PlayTime) * time.Millisecond),
		})
	}
	t.Render()
}
