// Package cluster groups a session's tabs by topical overlap. It works
// on tags and title keywords only, so the result is deterministic and
// needs no model call.
package cluster

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Item is one tab as seen by the clusterer.
type Item struct {
	TabID  int64
	Title  string
	Tags   []string
	Domain string
}

// Cluster is a group of two or more topically related tabs. Tabs that
// match nothing stay unclustered.
type Cluster struct {
	ID     string
	Label  string
	TabIDs []int64
}

const (
	// Two items belong together when their token sets overlap enough.
	minJaccard      = 0.25
	minSharedTokens = 2
)

var wordSplit = regexp.MustCompile(`[^a-z0-9äöüß]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "how": true, "what": true, "why": true,
	"your": true, "you": true, "der": true, "die": true, "das": true,
	"und": true, "für": true, "mit": true, "von": true, "eine": true,
	"ein": true, "wie": true, "was": true, "auf": true, "ist": true,
}

// tokens builds the comparable token set for an item: its tags plus
// the keywords of its title.
func tokens(it Item) map[string]bool {
	set := make(map[string]bool)
	for _, tag := range it.Tags {
		if t := strings.ToLower(strings.TrimSpace(tag)); t != "" {
			set[t] = true
		}
	}
	for _, w := range wordSplit.Split(strings.ToLower(it.Title), -1) {
		if len(w) >= 3 && !stopwords[w] {
			set[w] = true
		}
	}
	return set
}

func related(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	if shared == 0 {
		return false
	}
	union := len(a) + len(b) - shared
	if float64(shared)/float64(union) >= minJaccard {
		return true
	}
	return shared >= minSharedTokens
}

// Assign partitions the items into clusters. Input order decides
// cluster ids, so the same session always clusters the same way.
func Assign(items []Item) []Cluster {
	n := len(items)
	if n < 2 {
		return nil
	}

	sets := make([]map[string]bool, n)
	for i, it := range items {
		sets[i] = tokens(it)
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if related(sets[i], sets[j]) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	roots := make([]int, 0, len(groups))
	for root, members := range groups {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	clusters := make([]Cluster, 0, len(roots))
	for seq, root := range roots {
		members := groups[root]
		c := Cluster{
			ID:    fmt.Sprintf("c%d", seq+1),
			Label: label(items, sets, members),
		}
		for _, i := range members {
			c.TabIDs = append(c.TabIDs, items[i].TabID)
		}
		clusters = append(clusters, c)
	}
	return clusters
}

// label names a cluster after its most common shared tokens, with a
// fixed tie-break so labels are stable across runs.
func label(items []Item, sets []map[string]bool, members []int) string {
	counts := make(map[string]int)
	for _, i := range members {
		for t := range sets[i] {
			counts[t]++
		}
	}

	type tc struct {
		token string
		count int
	}
	ranked := make([]tc, 0, len(counts))
	for t, c := range counts {
		if c >= 2 {
			ranked = append(ranked, tc{t, c})
		}
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].count != ranked[b].count {
			return ranked[a].count > ranked[b].count
		}
		return ranked[a].token < ranked[b].token
	})

	if len(ranked) == 0 {
		// No shared vocabulary; fall back to the first member's domain.
		if d := items[members[0]].Domain; d != "" {
			return d
		}
		return "misc"
	}

	top := ranked
	if len(top) > 2 {
		top = top[:2]
	}
	parts := make([]string, len(top))
	for i, r := range top {
		parts[i] = r.token
	}
	return strings.Join(parts, " / ")
}
