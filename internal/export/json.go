package export

import (
	"encoding/json"
	"time"

	"github.com/lotas/tabtriage/internal/storage"
)

type jsonExport struct {
	Session jsonSession `json:"session"`
	Tabs    []jsonTab   `json:"tabs"`
}

type jsonSession struct {
	ID          int64  `json:"id"`
	WindowTitle string `json:"window_title"`
	Hostname    string `json:"hostname"`
	CapturedAt  string `json:"captured_at"`
	Status      string `json:"status"`
}

type jsonTab struct {
	URL               string   `json:"url"`
	Title             string   `json:"title"`
	Summary           string   `json:"summary,omitempty"`
	Category          string   `json:"category,omitempty"`
	SuggestedCategory string   `json:"suggested_category,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Starred           bool     `json:"starred"`
	ClusterLabel      string   `json:"cluster_label,omitempty"`
	Triaged           bool     `json:"triaged"`
}

// JSON renders a session and its tabs as an indented JSON document
// suitable for piping into other tools.
func JSON(session *storage.Session, tabs []storage.Tab) ([]byte, error) {
	out := jsonExport{
		Session: jsonSession{
			ID:          session.ID,
			WindowTitle: session.WindowTitle,
			Hostname:    session.Hostname,
			CapturedAt:  session.CapturedAt.Format(time.RFC3339),
			Status:      session.Status,
		},
		Tabs: make([]jsonTab, 0, len(tabs)),
	}
	for _, tab := range tabs {
		out.Tabs = append(out.Tabs, jsonTab{
			URL:               tab.URL,
			Title:             tab.Title,
			Summary:           tab.Summary,
			Category:          tab.Category,
			SuggestedCategory: tab.SuggestedCategory,
			Tags:              tab.Tags,
			Starred:           tab.Starred,
			ClusterLabel:      tab.ClusterLabel,
			Triaged:           tab.TriagedAt != nil,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
