package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseError(t *testing.T) {
	assert := assert.New(t)

	assertParseError := func(s string) {
		assert.Panics(func() {
			Parse(s)
		})
	}

	zero64 := "0000000000000000000000000000000000000000000000000000000000000000"
	assertParseError("foo")
	assertParseError(zero64[:63]) // too few digits
	assertParseError(zero64 + "0") // too many digits
	assertParseError("zz" + zero64[2:64]) // not hex

	r := Parse(zero64[:64])
	assert.NotNil(r)
}

func TestMaybeParse(t *testing.T) {
	assert := assert.New(t)

	zero := "0000000000000000000000000000000000000000000000000000000000000000"[:64]
	one := "0000000000000000000000000000000000000000000000000000000000000001"[:64]

	parse := func(s string, success bool) {
		r, ok := MaybeParse(s)
		assert.Equal(success, ok, "expected success=%t for %s", success, s)
		if ok {
			assert.Equal(s, r.String())
		} else {
			assert.Equal(emptyHash, r)
		}
	}

	parse(zero, true)
	parse(one, true)
	parse("", false)
	parse("adsfasdf", false)
}

func TestEquals(t *testing.T) {
	assert := assert.New(t)

	zero := Of([]byte("a"))
	one := Of([]byte("b"))

	r0 := Parse(zero.String())
	r01 := Parse(zero.String())
	r1 := Parse(one.String())

	assert.Equal(r0, r01)
	assert.NotEqual(r0, r1)
}

func TestString(t *testing.T) {
	h := Of([]byte("abc"))
	assert.Equal(t, h.String(), Parse(h.String()).String())
}

func TestOf(t *testing.T) {
	r := Of([]byte("abc"))
	// sha256("abc") is the well-known test vector.
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", r.String())
}

func TestIsEmpty(t *testing.T) {
	var r1 Hash
	assert.True(t, r1.IsEmpty())

	r2 := Of([]byte("abc"))
	assert.False(t, r2.IsEmpty())
}

func TestLess(t *testing.T) {
	assert := assert.New(t)

	var r1, r2 Hash
	r1[31] = 1
	r2[31] = 2

	assert.False(r1.Less(r1))
	assert.True(r1.Less(r2))
	assert.False(r2.Less(r1))
}

func TestCompareGreater(t *testing.T) {
	assert := assert.New(t)

	var r1, r2 Hash
	r1[31] = 1
	r2[31] = 2

	assert.False(r1.Compare(r1) > 0)
	assert.False(r1.Compare(r2) > 0)
	assert.True(r2.Compare(r1) > 0)
}

func TestSet(t *testing.T) {
	h1 := Of([]byte("x"))
	h2 := Of([]byte("y"))

	s := NewSet(h1)
	assert.True(t, s.Has(h1))
	assert.False(t, s.Has(h2))

	s.Insert(h2)
	assert.True(t, s.Has(h2))
	assert.Len(t, s.Slice(), 2)
}
