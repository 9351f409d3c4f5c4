package prefmodel

import (
	"hash/fnv"
	"sort"

	"github.com/hazyhaar/fouille/fouille/internal/memory"
)

// sparse is an L1-normalized hashed bag of words. idx is sorted and unique.
type sparse struct {
	idx []int
	val []float32
}

func (s sparse) empty() bool { return len(s.idx) == 0 }

// bucket maps a token to a feature index. FNV-1a keeps indices stable across
// processes, which a persisted model depends on.
func bucket(tok string, dim int) int {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return int(h.Sum32()&0x7FFFFFFF) % dim
}

// featurize tokenizes text, hashes every token into one of dim buckets,
// counts, and L1-normalizes the counts.
func featurize(text string, dim int) sparse {
	toks := memory.Tokenize(memory.Normalize(text))
	if len(toks) == 0 {
		return sparse{}
	}
	counts := make(map[int]float32, len(toks))
	for _, t := range toks {
		counts[bucket(t, dim)]++
	}
	s := sparse{idx: make([]int, 0, len(counts)), val: make([]float32, 0, len(counts))}
	for i := range counts {
		s.idx = append(s.idx, i)
	}
	sort.Ints(s.idx)
	total := float32(len(toks))
	for _, i := range s.idx {
		s.val = append(s.val, counts[i]/total)
	}
	return s
}

// Dense expands the feature vector of text, for inspection and tests.
func Dense(text string, dim int) []float32 {
	out := make([]float32, dim)
	s := featurize(text, dim)
	for k, i := range s.idx {
		out[i] = s.val[k]
	}
	return out
}
