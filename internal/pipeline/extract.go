package pipeline

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/model"
)

// Extractor groups content items into candidate topics. It vectorizes item
// text with TF-IDF, clusters with seeded k-means, and reads each cluster's
// top-weighted terms back out as the topic's keyword signature. Fixed input
// plus fixed seed gives identical output.
type Extractor struct {
	cfg config.DetectionConfig
}

// NewExtractor creates an extractor with the given detection tunables.
func NewExtractor(cfg config.DetectionConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract clusters items into candidate topics. Fewer than MinItems items
// yields no candidates; that is a quiet window, not an error.
func (e *Extractor) Extract(items []model.ContentItem) []model.CandidateTopic {
	if len(items) < e.cfg.MinItems {
		return nil
	}

	// cases.Caser carries internal state, so each Extract builds its own.
	folder := cases.Fold()
	docs := make([][]string, len(items))
	for i, it := range items {
		docs[i] = e.tokenize(folder, it.Text())
	}

	vectors, vocab := tfidf(docs)

	k := len(items) / e.cfg.MinClusterSize
	if k > e.cfg.MaxClusters {
		k = e.cfg.MaxClusters
	}
	if k < 1 {
		k = 1
	}

	assignments := kmeans(vectors, k, e.cfg.ClusterSeed)

	clusters := make(map[int][]int)
	for i, c := range assignments {
		clusters[c] = append(clusters[c], i)
	}

	clusterIDs := make([]int, 0, len(clusters))
	for c := range clusters {
		clusterIDs = append(clusterIDs, c)
	}
	sort.Ints(clusterIDs)

	var candidates []model.CandidateTopic
	for _, c := range clusterIDs {
		members := clusters[c]
		topic := e.buildTopic(items, vectors, members, vocab)
		if topic.Label == "" {
			continue
		}
		candidates = append(candidates, topic)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MentionCount != candidates[j].MentionCount {
			return candidates[i].MentionCount > candidates[j].MentionCount
		}
		return candidates[i].Label < candidates[j].Label
	})

	return candidates
}

func (e *Extractor) buildTopic(items []model.ContentItem, vectors []map[int]float64, members []int, vocab []string) model.CandidateTopic {
	// Aggregate member vectors and rank terms by total weight.
	termWeight := make(map[int]float64)
	for _, idx := range members {
		for term, w := range vectors[idx] {
			termWeight[term] += w
		}
	}

	type weighted struct {
		term   int
		weight float64
	}
	ranked := make([]weighted, 0, len(termWeight))
	for t, w := range termWeight {
		ranked = append(ranked, weighted{t, w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return vocab[ranked[i].term] < vocab[ranked[j].term]
	})

	maxKeywords := e.cfg.MaxKeywords
	if maxKeywords <= 0 {
		maxKeywords = 8
	}
	keywords := make([]string, 0, maxKeywords)
	for _, r := range ranked {
		keywords = append(keywords, vocab[r.term])
		if len(keywords) == maxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		return model.CandidateTopic{}
	}

	sourceSet := make(map[string]struct{})
	memberIDs := make([]string, 0, len(members))
	for _, idx := range members {
		memberIDs = append(memberIDs, items[idx].ID)
		sourceSet[items[idx].Source] = struct{}{}
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	return model.CandidateTopic{
		Label:         keywords[0],
		Keywords:      keywords,
		MemberItemIDs: memberIDs,
		MentionCount:  len(members),
		Sources:       sources,
		SourceCount:   len(sources),
	}
}

// tokenize folds case, splits on non-alphanumeric runes, and drops stopwords
// and very short tokens.
func (e *Extractor) tokenize(folder cases.Caser, text string) []string {
	folded := folder.String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// tfidf builds L2-normalized sparse TF-IDF vectors over the corpus. It
// returns the vectors and the vocabulary in term-id order.
func tfidf(docs [][]string) ([]map[int]float64, []string) {
	vocabIndex := make(map[string]int)
	var vocab []string
	df := make(map[int]int)

	termCounts := make([]map[int]int, len(docs))
	for i, doc := range docs {
		counts := make(map[int]int)
		for _, tok := range doc {
			id, ok := vocabIndex[tok]
			if !ok {
				id = len(vocab)
				vocabIndex[tok] = id
				vocab = append(vocab, tok)
			}
			counts[id]++
		}
		for id := range counts {
			df[id]++
		}
		termCounts[i] = counts
	}

	n := float64(len(docs))
	vectors := make([]map[int]float64, len(docs))
	for i, counts := range termCounts {
		vec := make(map[int]float64, len(counts))
		var norm float64
		for id, c := range counts {
			idf := math.Log(1 + n/float64(df[id]))
			w := float64(c) * idf
			vec[id] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for id := range vec {
				vec[id] /= norm
			}
		}
		vectors[i] = vec
	}

	return vectors, vocab
}

// kmeans clusters sparse unit vectors by cosine similarity. Centroid seeds
// come from a seeded permutation so runs are reproducible; ties in the
// assignment step resolve to the lowest centroid index.
func kmeans(vectors []map[int]float64, k int, seed int64) []int {
	if k >= len(vectors) {
		assignments := make([]int, len(vectors))
		for i := range assignments {
			assignments[i] = i
		}
		return assignments
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(vectors))

	centroids := make([]map[int]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = copyVector(vectors[perm[i]])
	}

	assignments := make([]int, len(vectors))
	const maxIterations = 25

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, vec := range vectors {
			best, bestSim := 0, -1.0
			for c, centroid := range centroids {
				sim := dot(vec, centroid)
				if sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids as normalized member sums.
		sums := make([]map[int]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make(map[int]float64)
		}
		for i, c := range assignments {
			counts[c]++
			for id, w := range vectors[i] {
				sums[c][id] += w
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // empty cluster keeps its centroid
			}
			normalize(sums[c])
			centroids[c] = sums[c]
		}
	}

	return assignments
}

// dot sums term products in ascending term-id order. Map iteration order
// would vary the float addition order between runs, which can flip an exact
// similarity tie and break the lowest-index tie-break guarantee.
func dot(a, b map[int]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	ids := make([]int, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var sum float64
	for _, id := range ids {
		sum += a[id] * b[id]
	}
	return sum
}

func normalize(vec map[int]float64) {
	var norm float64
	for _, w := range vec {
		norm += w * w
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for id := range vec {
		vec[id] /= norm
	}
}

func copyVector(vec map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(vec))
	for id, w := range vec {
		out[id] = w
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "his": {}, "has": {}, "had": {}, "how": {},
	"its": {}, "who": {}, "why": {}, "will": {}, "with": {}, "this": {},
	"that": {}, "from": {}, "they": {}, "have": {}, "been": {}, "were": {},
	"what": {}, "when": {}, "your": {}, "their": {}, "there": {}, "which": {},
	"would": {}, "could": {}, "should": {}, "about": {}, "after": {},
	"before": {}, "these": {}, "those": {}, "than": {}, "then": {},
	"them": {}, "into": {}, "over": {}, "under": {}, "more": {}, "most": {},
	"some": {}, "such": {}, "only": {}, "just": {}, "also": {}, "very": {},
	"here": {}, "where": {}, "while": {}, "being": {}, "does": {}, "doing": {},
	"each": {}, "between": {}, "both": {}, "during": {}, "other": {},
	"through": {}, "because": {}, "against": {}, "above": {}, "below": {},
	"again": {}, "once": {}, "now": {}, "new": {}, "says": {}, "said": {},
}
