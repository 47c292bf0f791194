package pagetable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
)

func TestNew_AllPagesFree(t *testing.T) {
	pt := pagetable.New(10)
	assert.EqualValues(t, 10, pt.FreePages())
	for i := rda.VDA(0); i < 10; i++ {
		assert.True(t, pt.IsFree(i))
	}
}

func TestSetBit_TracksFreeCountAndDirty(t *testing.T) {
	pt := pagetable.New(4)
	require.False(t, pt.Dirty())

	pt.SetBit(2, true)
	assert.True(t, pt.Dirty())
	assert.False(t, pt.IsFree(2))
	assert.EqualValues(t, 3, pt.FreePages())

	pt.ClearDirty()
	pt.SetBit(2, true) // no-op, value unchanged
	assert.False(t, pt.Dirty())

	pt.SetBit(2, false)
	assert.True(t, pt.IsFree(2))
	assert.EqualValues(t, 4, pt.FreePages())
}

func TestAllocateNear_PrefersLocality(t *testing.T) {
	pt := pagetable.New(10)
	// Allocate every page except 3 and 7, then ask for a page near 5. Both
	// are at distance 2, so the after-before-before-before tie break
	// decides: 6, 4, 7, 3, ... -- 6 and 4 are
	// occupied, so page 7 (after, distance 2) wins before page 3.
	for i := rda.VDA(0); i < 10; i++ {
		if i != 3 && i != 7 {
			pt.SetBit(i, true)
		}
	}

	got, ok := pt.AllocateNear(5)
	require.True(t, ok)
	assert.EqualValues(t, 7, got)
}

func TestAllocateNear_NoSpace(t *testing.T) {
	pt := pagetable.New(2)
	pt.SetBit(0, true)
	pt.SetBit(1, true)

	_, ok := pt.AllocateNear(0)
	assert.False(t, ok)
}

func TestAllocateNear_ZeroPrevScansForward(t *testing.T) {
	pt := pagetable.New(5)
	pt.SetBit(1, true)
	pt.SetBit(2, true)

	got, ok := pt.AllocateNear(0)
	require.True(t, ok)
	assert.EqualValues(t, 3, got)
}
