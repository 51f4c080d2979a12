// Package pacmatch implements the Block Matcher: hashing
// basic blocks and raw-data blocks across two decoded files and reporting
// unique and non-unique content matches, for binary-diffing use cases.
package pacmatch

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
)

// Mode selects the hashing strategy.
type Mode int

const (
	ModeBytes Mode = iota
	ModeSignatures
	ModeRawData
)

// Settings configures the matcher's thresholds and reporting policy.
type Settings struct {
	MinBlockSize       int
	MinBlockInstrCount int
	UniqueMatches      bool
	NonUniqueMatches   bool
}

// MatchedCodeBlocks reports one pairing of a first-file offset and a
// second-file offset, plus how many total candidates shared that hash on
// each side (1,1 means a unique match).
type MatchedCodeBlocks struct {
	FirstCount, SecondCount     int
	FirstAddress, SecondAddress int
}

// MatchedDataBlocks mirrors MatchedCodeBlocks for raw-data entities.
type MatchedDataBlocks = MatchedCodeBlocks

type bucket struct {
	first, second []int
}

func hashBytes(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func hashSignatures(block *pacblock.Block) string {
	var buf bytes.Buffer
	var sigBytes [4]byte
	for _, instr := range block.Instructions {
		binary.BigEndian.PutUint32(sigBytes[:], instr.Signature())
		buf.Write(sigBytes[:])
	}
	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func qualifies(block *pacblock.Block, s Settings) bool {
	return block.Size >= s.MinBlockSize && len(block.Instructions) >= s.MinBlockInstrCount
}

func hashCodeBlocks(file *pacentity.File, g *pacblock.Graph, mode Mode, s Settings, buckets map[string]*bucket, isFirst bool) {
	for _, start := range g.StartOffsets {
		block, ok := g.BlockAtStart(start)
		if !ok || !qualifies(block, s) {
			continue
		}
		var h string
		switch mode {
		case ModeBytes:
			h = hashBytes(file.Raw[block.Start : block.Start+block.Size])
		case ModeSignatures:
			h = hashSignatures(block)
		default:
			continue
		}
		b := buckets[h]
		if b == nil {
			b = &bucket{}
			buckets[h] = b
		}
		if isFirst {
			b.first = append(b.first, block.Start)
		} else {
			b.second = append(b.second, block.Start)
		}
	}
}

// MatchCodeBlocks hashes qualifying basic blocks of fileA/gA and fileB/gB
// under mode and reports matches per settings. Identical inputs and
// settings always yield an identical match set.
func MatchCodeBlocks(fileA *pacentity.File, gA *pacblock.Graph, fileB *pacentity.File, gB *pacblock.Graph, mode Mode, s Settings) []MatchedCodeBlocks {
	buckets := make(map[string]*bucket)
	hashCodeBlocks(fileA, gA, mode, s, buckets, true)
	hashCodeBlocks(fileB, gB, mode, s, buckets, false)
	return collectMatches(buckets, s)
}

func collectMatches(buckets map[string]*bucket, s Settings) []MatchedCodeBlocks {
	var out []MatchedCodeBlocks
	for _, b := range buckets {
		fc, sc := len(b.first), len(b.second)
		if fc == 0 || sc == 0 {
			continue
		}
		unique := fc == 1 && sc == 1
		if unique && s.UniqueMatches {
			out = append(out, MatchedCodeBlocks{1, 1, b.first[0], b.second[0]})
		}
		if !unique && s.NonUniqueMatches {
			for _, fa := range b.first {
				for _, sb := range b.second {
					out = append(out, MatchedCodeBlocks{fc, sc, fa, sb})
				}
			}
		}
	}
	// Map iteration order is unspecified; sort for stable reporter output.
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstAddress != out[j].FirstAddress {
			return out[i].FirstAddress < out[j].FirstAddress
		}
		return out[i].SecondAddress < out[j].SecondAddress
	})
	return out
}

// MatchRawDataBlocks hashes every RawData entity in each file with MD5 and
// reports matches per settings.
func MatchRawDataBlocks(fileA *pacentity.File, fileB *pacentity.File, s Settings) []MatchedDataBlocks {
	buckets := make(map[string]*bucket)
	collect := func(file *pacentity.File, isFirst bool) {
		for _, off := range file.EntityOffsets {
			e, _ := file.GetEntityByOffset(off)
			if e.Kind != pacentity.KindRawData || e.Size < s.MinBlockSize {
				continue
			}
			h := hashBytes(e.Raw)
			b := buckets[h]
			if b == nil {
				b = &bucket{}
				buckets[h] = b
			}
			if isFirst {
				b.first = append(b.first, off)
			} else {
				b.second = append(b.second, off)
			}
		}
	}
	collect(fileA, true)
	collect(fileB, false)
	return collectMatches(buckets, s)
}
