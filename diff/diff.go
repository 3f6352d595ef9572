// Package diff implements the minimal Hunt–McIlroy longest-common-
// substring diff described in spec.md §4.4: a patch of retain/delete/
// insert operations transforming one string into another, with
// deterministic first-found-longest tie-breaking.
package diff

import "fmt"

// Op is one step of a patch. Exactly one of Retain, Delete, or Insert.
type Op interface {
	isOp()
}

// Retain copies the next N runes of the source unchanged.
type Retain struct{ N int }

// Delete skips the next N runes of the source.
type Delete struct{ N int }

// Insert emits S, which is not present (at this position) in the source.
type Insert struct{ S string }

func (Retain) isOp() {}
func (Delete) isOp() {}
func (Insert) isOp() {}

// Compute returns the patch transforming s0 into s1. Compute(s, s) == nil
// for any s.
func Compute(s0, s1 string) []Op {
	if s0 == s1 {
		return nil
	}
	return mergeOps(compute([]rune(s0), []rune(s1)))
}

func compute(a, b []rune) []Op {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	if len(a) == 0 {
		return []Op{Insert{S: string(b)}}
	}
	if len(b) == 0 {
		return []Op{Delete{N: len(a)}}
	}

	aStart, bStart, length := longestCommonSlice(a, b)
	if length == 0 {
		return []Op{Delete{N: len(a)}, Insert{S: string(b)}}
	}

	before := compute(a[:aStart], b[:bStart])
	after := compute(a[aStart+length:], b[bStart+length:])

	ops := make([]Op, 0, len(before)+1+len(after))
	ops = append(ops, before...)
	ops = append(ops, Retain{N: length})
	ops = append(ops, after...)
	return ops
}

// longestCommonSlice finds the longest run of runes common to a and b,
// per spec.md §4.4: build a character→indices map for b, then scan a
// maintaining runs keyed by end-index-in-b, extending the run ending at
// j-1 whenever a[i] == b[j]. Ties are broken by first-found: since i and,
// for fixed i, j both advance in increasing order, the earliest-starting
// match of the longest length wins without any extra bookkeeping.
func longestCommonSlice(a, b []rune) (aStart, bStart, length int) {
	bIndex := make(map[rune][]int, len(b))
	for j, ch := range b {
		bIndex[ch] = append(bIndex[ch], j)
	}

	runs := make(map[int]int)
	for i, ch := range a {
		newRuns := make(map[int]int, len(runs))
		for _, j := range bIndex[ch] {
			runLen := runs[j-1] + 1
			newRuns[j] = runLen
			if runLen > length {
				length = runLen
				aStart = i - runLen + 1
				bStart = j - runLen + 1
			}
		}
		runs = newRuns
	}
	return aStart, bStart, length
}

// Apply replays ops against s0, producing the string they encode a
// transformation into. It is the inverse of Compute, used by tests to
// check the round-trip law apply(diff(s0, s1), s0) == s1.
func Apply(ops []Op, s0 string) (string, error) {
	a := []rune(s0)
	pos := 0
	var out []rune
	for _, op := range ops {
		switch o := op.(type) {
		case Retain:
			if pos+o.N > len(a) {
				return "", fmt.Errorf("diff: retain(%d) past end of source at %d", o.N, pos)
			}
			out = append(out, a[pos:pos+o.N]...)
			pos += o.N
		case Delete:
			if pos+o.N > len(a) {
				return "", fmt.Errorf("diff: delete(%d) past end of source at %d", o.N, pos)
			}
			pos += o.N
		case Insert:
			out = append(out, []rune(o.S)...)
		default:
			return "", fmt.Errorf("diff: unknown op type %T", op)
		}
	}
	if pos != len(a) {
		return "", fmt.Errorf("diff: patch consumed %d of %d source runes", pos, len(a))
	}
	return string(out), nil
}

// mergeOps coalesces adjacent ops of the same kind and drops zero-length
// ones, so callers see a minimal patch.
func mergeOps(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case Retain:
			if o.N == 0 {
				continue
			}
			if n := len(out); n > 0 {
				if last, ok := out[n-1].(Retain); ok {
					out[n-1] = Retain{N: last.N + o.N}
					continue
				}
			}
		case Delete:
			if o.N == 0 {
				continue
			}
			if n := len(out); n > 0 {
				if last, ok := out[n-1].(Delete); ok {
					out[n-1] = Delete{N: last.N + o.N}
					continue
				}
			}
		case Insert:
			if o.S == "" {
				continue
			}
			if n := len(out); n > 0 {
				if last, ok := out[n-1].(Insert); ok {
					out[n-1] = Insert{S: last.S + o.S}
					continue
				}
			}
		}
		out = append(out, op)
	}
	return out
}
