package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/ytplay/internal/models"
)

var _ list.Item = trackItem{}

// trackItem wraps [models.Track] to implement [list.Item].
type trackItem struct {
	track   models.Track
	current bool
}

func (i trackItem) FilterValue() string { return i.track.Title }

func (i trackItem) Title() string {
	if i.current {
		return "▶ " + i.track.Title
	}
	return i.track.Title
}

func (i trackItem) Description() string {
	desc := i.track.ArtistNames()
	if i.track.Album != nil && i.track.Album.Title != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.track.Album.Title)
	}
	if i.track.Duration >= 0 {
		desc = fmt.Sprintf("%s • %s", desc, formatSeconds(i.track.Duration))
	}
	return desc
}

func trackItems(tracks []models.Track, current int) []list.Item {
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t, current: i == current}
	}
	return items
}
