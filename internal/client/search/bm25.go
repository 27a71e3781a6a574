package search

import (
	"math"

	"github.com/dmitrijs2005/memovault/internal/client/models"
)

const (
	bm25K1      = 1.2
	bm25B       = 0.75
	titleWeight = 2.0
)

// termFrequencies returns the weighted term frequencies and the weighted
// document length of a record. Title tokens count titleWeight times.
func termFrequencies(r models.Record) (map[string]float64, float64) {
	tfs := make(map[string]float64)
	var length float64
	add := func(text string, w float64) {
		for _, tok := range Tokenize(text) {
			tfs[tok] += w
			length += w
		}
	}
	add(r.Title, titleWeight)
	add(r.ContentText, 1)
	for _, tag := range r.Tags {
		add(tag, 1)
	}
	return tfs, length
}

func idf(docCount, df int64) float64 {
	n := float64(docCount)
	d := float64(df)
	return math.Log(1 + (n-d+0.5)/(d+0.5))
}

func termScore(tf, docLen, avgLen, idf float64) float64 {
	if avgLen <= 0 {
		avgLen = 1
	}
	return idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
}
