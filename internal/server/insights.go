package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// topicCount is one tag with its frequency among untriaged tabs.
type topicCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// clusterCount is one cluster with its member count.
type clusterCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type topics struct {
	Tags     []topicCount   `json:"tags"`
	Clusters []clusterCount `json:"clusters"`
}

// aggregateTopics builds the topic overview for the untriaged backlog:
// tag frequencies plus cluster sizes, both sorted by count.
func aggregateTopics(db *sql.DB) (*topics, error) {
	rows, err := db.Query(
		"SELECT tags, cluster_id, cluster_label FROM tabs WHERE triaged_at IS NULL")
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	tagCounts := make(map[string]int)
	type clusterAgg struct {
		label string
		count int
	}
	clusters := make(map[string]*clusterAgg)

	for rows.Next() {
		var tagsJSON, clusterID, clusterLabel sql.NullString
		if err := rows.Scan(&tagsJSON, &clusterID, &clusterLabel); err != nil {
			return nil, fmt.Errorf("scan topics: %w", err)
		}

		if tagsJSON.Valid && tagsJSON.String != "" {
			var tags []string
			if err := json.Unmarshal([]byte(tagsJSON.String), &tags); err == nil {
				for _, t := range tags {
					tagCounts[t]++
				}
			}
		}
		if clusterID.Valid && clusterLabel.Valid {
			c, ok := clusters[clusterID.String]
			if !ok {
				c = &clusterAgg{label: clusterLabel.String}
				clusters[clusterID.String] = c
			}
			c.count++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := &topics{Tags: []topicCount{}, Clusters: []clusterCount{}}
	for tag, n := range tagCounts {
		out.Tags = append(out.Tags, topicCount{Tag: tag, Count: n})
	}
	sort.Slice(out.Tags, func(i, j int) bool {
		if out.Tags[i].Count != out.Tags[j].Count {
			return out.Tags[i].Count > out.Tags[j].Count
		}
		return out.Tags[i].Tag < out.Tags[j].Tag
	})
	for _, c := range clusters {
		out.Clusters = append(out.Clusters, clusterCount{Label: c.label, Count: c.count})
	}
	sort.Slice(out.Clusters, func(i, j int) bool {
		if out.Clusters[i].Count != out.Clusters[j].Count {
			return out.Clusters[i].Count > out.Clusters[j].Count
		}
		return out.Clusters[i].Label < out.Clusters[j].Label
	})
	return out, nil
}
