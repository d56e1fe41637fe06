package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLimitOrder_SortedOrders(t *testing.T) {
	fx := setupAndDeposit(t)
	start := fx.token0.BalanceOf(acc1)

	id, err := fx.eng.CreateLimitOrder(from(acc1), fx.book, 2, 1, true, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
	id, err = fx.eng.CreateLimitOrder(from(acc1), fx.book, 3, 1, true, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	assert.Equal(t, []uint64{2, 3}, fx.ids(t))
	want := new(uint256.Int).Sub(start, amount(5*sizeTick))
	assert.Equal(t, want, fx.token0.BalanceOf(acc1))

	newID, err := fx.eng.UpdateLimitOrder(from(acc1), fx.book, 2, 700, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), newID)

	snap := fx.orders(t)
	assert.Equal(t, []uint64{3, 4}, snap.IDs)
	assert.Equal(t, amount(700*sizeTick), snap.Sizes[1])
	want = new(uint256.Int).Sub(start, amount(703*sizeTick))
	assert.Equal(t, want, fx.token0.BalanceOf(acc1))
	assertCollateralized(t, fx)
}

func TestUpdateLimitOrder_FullyFilledIsErased(t *testing.T) {
	fx := setupAndDeposit(t)

	_, err := fx.eng.CreateLimitOrder(from(acc1), fx.book, 1, 10, true, 0) // 2
	require.NoError(t, err)
	_, err = fx.eng.CreateLimitOrder(from(acc1), fx.book, 10, 1, false, 0) // 3
	require.NoError(t, err)

	newID, err := fx.eng.UpdateLimitOrder(from(acc1), fx.book, 2, 10, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), newID, "a fully filled order still consumes an id")

	assert.Equal(t, []uint64{}, fx.ids(t))
	_, ok, err := fx.eng.GetOrder(fx.book, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assertCollateralized(t, fx)

	// The next order continues the id sequence.
	assert.Equal(t, uint64(5), fx.create(t, acc1, 1, 1, true))
}

func TestUpdateLimitOrder_PartialFillUpdatesList(t *testing.T) {
	fx := setupAndDeposit(t)

	_, err := fx.eng.CreateLimitOrder(from(acc1), fx.book, 1, 1, false, 0) // 2
	require.NoError(t, err)
	_, err = fx.eng.CreateLimitOrder(from(acc1), fx.book, 2, 2, false, 0) // 3
	require.NoError(t, err)
	_, err = fx.eng.CreateLimitOrder(from(acc1), fx.book, 1, 3, true, 0) // 4
	require.NoError(t, err)

	assert.Equal(t, []uint64{4, 3, 2}, fx.ids(t))

	newID, err := fx.eng.UpdateLimitOrder(from(acc1), fx.book, 3, 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), newID)

	snap := fx.orders(t)
	assert.Equal(t, []uint64{5, 2}, snap.IDs)
	// Order 5 was partially filled by ask 4.
	assert.Equal(t, amount(1*sizeTick), snap.Sizes[0])
	assert.Equal(t, uint64(3), snap.Prices[0])
	assertSorted(t, snap)
	assertCollateralized(t, fx)
}

func TestUpdateLimitOrder_NotOwner(t *testing.T) {
	fx := setupAndDeposit(t)

	_, err := fx.eng.CreateLimitOrder(from(acc1), fx.book, 7, 3, false, 0)
	require.NoError(t, err)

	_, err = fx.eng.UpdateLimitOrder(from(acc2), fx.book, 2, 1, 1, 0)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorContains(t, err, "the caller should be the owner of the order")
	assert.Equal(t, []uint64{2}, fx.ids(t))
}

func TestUpdateLimitOrder_CanceledOrderIsNoop(t *testing.T) {
	fx := setupAndDeposit(t)

	_, err := fx.eng.CreateLimitOrder(from(acc1), fx.book, 7, 3, false, 0)
	require.NoError(t, err)
	require.NoError(t, fx.eng.CancelLimitOrder(from(acc1), fx.book, 2))

	newID, err := fx.eng.UpdateLimitOrder(from(acc2), fx.book, 2, 1, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, newID)
	assert.Equal(t, []uint64{}, fx.ids(t))
}

func TestUpdateLimitOrder_IDsIncrease(t *testing.T) {
	fx := setupAndDeposit(t)

	id := fx.create(t, acc1, 5, 4, false)
	for i := uint64(1); i <= 5; i++ {
		newID, err := fx.eng.UpdateLimitOrder(from(acc1), fx.book, id, 5, 4+i, 0)
		require.NoError(t, err)
		assert.Greater(t, newID, id)

		_, ok, err := fx.eng.GetOrder(fx.book, id)
		require.NoError(t, err)
		assert.False(t, ok, "pre-update id must not be resident")
		id = newID
	}
	assert.Equal(t, []uint64{id}, fx.ids(t))
}
