package selector

import (
	"net/url"
	"sort"
	"strings"
)

// keywordWeights scores a URL path by the page kinds most likely to hold
// extractable company facts. The homepage always wins.
var keywordWeights = []struct {
	keyword string
	weight  int
}{
	{"contact", 10},
	{"about", 9},
	{"team", 8},
	{"leadership", 8},
	{"careers", 7},
	{"jobs", 7},
	{"company", 6},
	{"services", 5},
	{"products", 5},
	{"history", 4},
	{"our-story", 4},
	{"story", 4},
}

const homepageBonus = 100

// heuristicSelect scores each candidate by keyword presence in its path and
// returns the top kTarget, stable by insertion order on ties.
func heuristicSelect(candidates []string, kTarget int) []string {
	type scored struct {
		url   string
		score int
		order int
	}

	scoredCandidates := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredCandidates[i] = scored{url: c, score: scoreURL(c), order: i}
	}

	sort.SliceStable(scoredCandidates, func(i, j int) bool {
		return scoredCandidates[i].score > scoredCandidates[j].score
	})

	if kTarget > len(scoredCandidates) {
		kTarget = len(scoredCandidates)
	}

	out := make([]string, kTarget)
	for i := 0; i < kTarget; i++ {
		out[i] = scoredCandidates[i].url
	}
	return out
}

func scoreURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}

	path := strings.ToLower(u.Path)
	if path == "" || path == "/" {
		return homepageBonus
	}

	score := 0
	for _, kw := range keywordWeights {
		if strings.Contains(path, kw.keyword) {
			score += kw.weight
		}
	}
	return score
}
