package dsseq

import "crypto/md5"

// SplitEntities partitions entities into a left and a
// right set by hashing their names.
//
// An entity always lands on the same side for a given
// leftRatio, no matter which other entities are present,
// so validation sets stay stable as a corpus grows.
func SplitEntities(entities []*Entity, leftRatio float64) (left, right []*Entity) {
	if leftRatio <= 0 {
		return nil, entities
	} else if leftRatio >= 1 {
		return entities, nil
	}
	cutoff := hashCutoff(leftRatio)
	for _, e := range entities {
		sum := md5.Sum([]byte(e.Name))
		if compareHashes(sum[:], cutoff) < 0 {
			left = append(left, e)
		} else {
			right = append(right, e)
		}
	}
	return left, right
}

func hashCutoff(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		value := int(ratio)
		ratio -= float64(value)
		if value == 256 {
			value = 255
		}
		res[i] = byte(value)
	}
	return res
}

func compareHashes(h1, h2 []byte) int {
	max := len(h1)
	if len(h2) > max {
		max = len(h2)
	}
	for i := 0; i < max; i++ {
		var h1Val, h2Val byte
		if i < len(h1) {
			h1Val = h1[i]
		}
		if i < len(h2) {
			h2Val = h2[i]
		}
		if h1Val < h2Val {
			return -1
		} else if h1Val > h2Val {
			return 1
		}
	}
	return 0
}
