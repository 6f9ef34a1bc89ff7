package termstructure

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned, together with the unchanged table, when a
// fill lacks the basis rows it needs.
var ErrInsufficientData = errors.New("insufficient data points")

// ErrDegenerateGap marks basis rows that share the same days value.
var ErrDegenerateGap = fmt.Errorf("%w: zero-width days gap between basis rows", ErrInsufficientData)
