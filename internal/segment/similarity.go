package segment

import "sort"

// similarityTopN caps how many top artists per bucket enter the comparison.
const similarityTopN = 20

// Similarity measures how much two weeks share their favored artists as the
// Jaccard similarity of their top-N artist sets. N is the smaller of 20 and
// the smaller bucket's artist count. Result is in [0, 1]; a bucket without
// artists yields 0.
func Similarity(a, b *WeekBucket) float64 {
	if len(a.ArtistCounts) == 0 || len(b.ArtistCounts) == 0 {
		return 0.0
	}
	n := similarityTopN
	if len(a.ArtistCounts) < n {
		n = len(a.ArtistCounts)
	}
	if len(b.ArtistCounts) < n {
		n = len(b.ArtistCounts)
	}

	setA := topArtistSet(a.ArtistCounts, n)
	setB := topArtistSet(b.ArtistCounts, n)

	intersection := 0
	for artist := range setA {
		if _, ok := setB[artist]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// topArtistSet returns the n most played artists as a set. Ties break on
// lexicographic artist name so the similarity function is deterministic.
func topArtistSet(counts map[string]int, n int) map[string]struct{} {
	type artistCount struct {
		name  string
		count int
	}
	all := make([]artistCount, 0, len(counts))
	for name, count := range counts {
		all = append(all, artistCount{name: name, count: count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].name < all[j].name
	})

	if n > len(all) {
		n = len(all)
	}
	set := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		set[all[i].name] = struct{}{}
	}
	return set
}
