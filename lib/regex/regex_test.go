package regex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactMatch(t *testing.T) {
	r := MustCompile("a.*")

	require.True(t, r.Match(ExactUSR([]byte("a"))))
	require.True(t, r.Match(ExactUSR([]byte("ab"))))
	require.True(t, r.Match(ExactUSR([]byte("abcdef"))))
	require.False(t, r.Match(ExactUSR([]byte("b"))))
	require.False(t, r.Match(ExactUSR([]byte("ba"))))
	require.False(t, r.Match(ExactUSR([]byte(""))))
}

func TestMatchIsWholeKey(t *testing.T) {
	r := MustCompile("bc")

	// no implicit anchors are added, but the whole key must be consumed
	require.True(t, r.Match(ExactUSR([]byte("bc"))))
	require.False(t, r.Match(ExactUSR([]byte("abc"))))
	require.False(t, r.Match(ExactUSR([]byte("bcd"))))
}

func TestMatchClassesAndAlternation(t *testing.T) {
	r := MustCompile("(foo|ba[rz])[0-9]+")

	require.True(t, r.Match(ExactUSR([]byte("foo1"))))
	require.True(t, r.Match(ExactUSR([]byte("baz42"))))
	require.True(t, r.Match(ExactUSR([]byte("bar007"))))
	require.False(t, r.Match(ExactUSR([]byte("foo"))))
	require.False(t, r.Match(ExactUSR([]byte("bay1"))))
}

func TestMatchEmptyPattern(t *testing.T) {
	r := MustCompile("")
	require.True(t, r.Match(ExactUSR([]byte(""))))
	require.False(t, r.Match(ExactUSR([]byte("x"))))
}

// critMask returns the tree-style mask byte isolating the highest bit of x:
// all ones except that bit.
func critMask(x uint8) uint8 {
	m := x
	m |= m >> 1
	m |= m >> 2
	m |= m >> 4
	return (m & ^(m >> 1)) ^ 0xFF
}

func TestPossiblePrunesForeignFirstByte(t *testing.T) {
	r := MustCompile("a.*")

	// 'a'=0x61 and 'b'=0x62 first differ in bit 0x02
	mask := critMask('a' ^ 'b')

	left := NewUSR()
	left.Reveal(0, mask, false) // the 'a' side
	require.True(t, r.Possible(left))

	right := NewUSR()
	right.Reveal(0, mask, true) // the 'b' side
	require.False(t, r.Possible(right))
}

func TestPossibleUnknownIsLiberal(t *testing.T) {
	r := MustCompile("key[0-9]")

	// nothing known: anything could match
	require.True(t, r.Possible(NewUSR()))

	// a bit consistent with 'k' keeps the subtree alive
	mask := critMask('k' ^ 'x')
	u := NewUSR()
	u.Reveal(0, mask, false)
	if 'k'&^mask == 0 {
		require.True(t, r.Possible(u))
	}
}

func TestPossibleShortKeyConsistency(t *testing.T) {
	r := MustCompile("a")

	// revealing a clear bit at byte 3 stays consistent with the 1-byte key
	// "a" (short keys read as zero padded)
	u := NewUSR()
	u.Reveal(3, critMask(0x40), false)
	u.Reveal(0, critMask('a'^'c'), false)
	require.True(t, r.Possible(u))

	// a set bit at byte 3 forces a key longer than 3 bytes: "a" cannot live
	// below such a branch
	u2 := NewUSR()
	u2.Reveal(3, critMask(0x40), true)
	require.False(t, r.Possible(u2))
}

func TestPossibleSoundnessBitByBit(t *testing.T) {
	// Possible must never refute a USR an actually matching key is
	// consistent with
	r := MustCompile("ab?c+")
	keys := [][]byte{[]byte("ac"), []byte("abc"), []byte("accc"), []byte("abccc")}

	for _, key := range keys {
		require.True(t, r.Match(ExactUSR(key)))

		// reveal the key's bits one at a time, most significant first, and
		// check Possible after every step
		u := NewUSR()
		for i, b := range key {
			for bit := 7; bit >= 0; bit-- {
				mask := uint8(1<<uint(bit)) ^ 0xFF
				u.Reveal(uint32(i), mask, b&(1<<uint(bit)) != 0)
				require.True(t, r.Possible(u), "key %q byte %d bit %d", key, i, bit)
			}
		}
	}
}

func TestAnchorsBehaveAsWholeKey(t *testing.T) {
	r := MustCompile("^user:[a-z]+$")
	require.True(t, r.Match(ExactUSR([]byte("user:bob"))))
	require.False(t, r.Match(ExactUSR([]byte("xuser:bob"))))

	u := NewUSR()
	u.Reveal(0, critMask('u'^'v'), false)
	require.True(t, r.Possible(u))
}

func TestCompileError(t *testing.T) {
	_, err := Compile("(")
	require.Error(t, err)
}
