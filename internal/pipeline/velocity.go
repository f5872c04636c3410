package pipeline

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/creatorpulse/trendwatch/internal/model"
)

// AnnotateVelocity fills each candidate's velocity by comparing its current
// mention count against matching items from the preceding window of equal
// length. A topic with no history gets its current count as velocity, so
// brand-new topics still carry a real, comparable number.
func AnnotateVelocity(candidates []model.CandidateTopic, historical []model.ContentItem) []model.CandidateTopic {
	folder := cases.Fold()

	foldedTexts := make([]string, len(historical))
	for i, it := range historical {
		foldedTexts[i] = folder.String(it.Text())
	}

	for i := range candidates {
		hist := countMatches(candidates[i].Keywords, foldedTexts, folder)
		cur := float64(candidates[i].MentionCount)
		if hist == 0 {
			candidates[i].Velocity = cur
		} else {
			candidates[i].Velocity = (cur - float64(hist)) / float64(hist)
		}
	}

	return candidates
}

// countMatches counts historical items containing any of the candidate's
// keywords as a token or substring, case-insensitively.
func countMatches(keywords []string, foldedTexts []string, folder cases.Caser) int {
	folded := make([]string, len(keywords))
	for i, kw := range keywords {
		folded[i] = folder.String(kw)
	}

	var n int
	for _, text := range foldedTexts {
		for _, kw := range folded {
			if kw != "" && strings.Contains(text, kw) {
				n++
				break
			}
		}
	}
	return n
}
