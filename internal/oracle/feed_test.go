package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed(8, 2e8)

	price, decimals, err := feed.LatestPrice()
	require.NoError(t, err)
	require.Equal(t, uint8(8), decimals)
	require.Equal(t, big.NewInt(2e8), price)

	feed.SetAnswer(35e7)
	price, _, err = feed.LatestPrice()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(35e7), price)
}

func TestStaticFeedNoAnswer(t *testing.T) {
	feed := NewStaticFeed(8, 0)
	_, _, err := feed.LatestPrice()
	require.ErrorIs(t, err, ErrNoAnswer)

	feed.SetAnswer(-5)
	_, _, err = feed.LatestPrice()
	require.ErrorIs(t, err, ErrNoAnswer)
}
