package engine

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// walkContext is the read-only view handed to strategy callbacks. One context
// instance is reused across the walk; the driver mutates its cursor fields.
type walkContext struct {
	frame      *types.Frame
	index      int
	direction  types.Direction
	entryIndex int
	state      types.MarketState
}

func (c *walkContext) Bar() types.Bar {
	return c.frame.Bar(c.index)
}

func (c *walkContext) Index() int {
	return c.index
}

func (c *walkContext) Direction() types.Direction {
	return c.direction
}

func (c *walkContext) EntryIndex() optional.Option[int] {
	if c.direction == 0 {
		return optional.None[int]()
	}

	return optional.Some(c.entryIndex)
}

func (c *walkContext) BarsHeld() int {
	if c.direction == 0 {
		return 0
	}

	return c.index - c.entryIndex
}

func (c *walkContext) MarketState() types.MarketState {
	return c.state
}

func (c *walkContext) Value(column string) (float64, bool) {
	col, ok := c.frame.Column(column)
	if !ok {
		return 0, false
	}

	v := col[c.index]
	if math.IsNaN(v) {
		return 0, false
	}

	return v, true
}

func (c *walkContext) Require(column string) (float64, error) {
	v, ok := c.Value(column)
	if !ok {
		return 0, errors.Newf(errors.KindMissingIndicator, column,
			"required indicator %q missing at bar %d", column, c.index)
	}

	return v, nil
}
