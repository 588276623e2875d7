package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabtriage/internal/storage"
)

// Markdown formats a triaged session as a markdown document, grouped
// by cluster.
func Markdown(session *storage.Session, tabs []storage.Tab) string {
	var b strings.Builder

	title := session.WindowTitle
	if title == "" {
		title = fmt.Sprintf("Session %d", session.ID)
	}
	fmt.Fprintf(&b, "# Tabs — %s\n", title)
	fmt.Fprintf(&b, "> Captured %s on %s, exported %s\n",
		session.CapturedAt.Format("2006-01-02 15:04"),
		session.Hostname,
		time.Now().Format("2006-01-02 15:04"))

	for _, group := range groupByCluster(tabs) {
		n := len(group.tabs)
		noun := "tabs"
		if n == 1 {
			noun = "tab"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", group.label, n, noun)

		for _, tab := range group.tabs {
			title := tab.Title
			if title == "" {
				title = tab.URL
			}
			fmt.Fprintf(&b, "- [%s](%s)", title, tab.URL)
			if c := category(tab); c != "" {
				fmt.Fprintf(&b, " · %s", c)
			}
			b.WriteString("\n")
			if tab.Summary != "" {
				fmt.Fprintf(&b, "  %s\n", tab.Summary)
			}
		}
	}

	return b.String()
}

// category prefers the user's decision over the AI suggestion.
func category(t storage.Tab) string {
	if t.Category != "" {
		return t.Category
	}
	if t.SuggestedCategory != "" {
		return t.SuggestedCategory + "?"
	}
	return ""
}

type clusterGroup struct {
	label string
	tabs  []storage.Tab
}

// groupByCluster orders tabs into their clusters, first-seen cluster
// first, with unclustered tabs collected at the end.
func groupByCluster(tabs []storage.Tab) []clusterGroup {
	var groups []clusterGroup
	index := make(map[string]int)
	var loose []storage.Tab

	for _, tab := range tabs {
		if tab.ClusterID == "" {
			loose = append(loose, tab)
			continue
		}
		i, ok := index[tab.ClusterID]
		if !ok {
			label := tab.ClusterLabel
			if label == "" {
				label = tab.ClusterID
			}
			i = len(groups)
			index[tab.ClusterID] = i
			groups = append(groups, clusterGroup{label: label})
		}
		groups[i].tabs = append(groups[i].tabs, tab)
	}

	if len(loose) > 0 {
		groups = append(groups, clusterGroup{label: "Ungrouped", tabs: loose})
	}
	return groups
}
