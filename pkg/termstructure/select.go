package termstructure

import (
	"github.com/GBERESEARCH/voldiscount/pkg/models"
)

// neighbors returns the indexes of the closest row strictly before days and
// the closest row strictly after it, or -1 where no such row exists.
func neighbors(ts models.TermStructure, days int) (before, after int) {
	before, after = -1, -1
	for i, p := range ts {
		switch {
		case p.Days < days:
			if before == -1 || p.Days > ts[before].Days {
				before = i
			}
		case p.Days > days:
			if after == -1 || p.Days < ts[after].Days {
				after = i
			}
		}
	}
	return before, after
}

// lowestTwo returns the indexes of the two rows with the fewest days. Equal
// days keep table order, matching a stable ascending sort.
func lowestTwo(ts models.TermStructure) (first, second int) {
	first, second = -1, -1
	for i, p := range ts {
		switch {
		case first == -1 || p.Days < ts[first].Days:
			second = first
			first = i
		case second == -1 || p.Days < ts[second].Days:
			second = i
		}
	}
	return first, second
}

// highestTwo returns the indexes of the two rows with the most days. Equal
// days keep table order, matching a stable descending sort.
func highestTwo(ts models.TermStructure) (last, secondLast int) {
	last, secondLast = -1, -1
	for i, p := range ts {
		switch {
		case last == -1 || p.Days > ts[last].Days:
			secondLast = last
			last = i
		case secondLast == -1 || p.Days > ts[secondLast].Days:
			secondLast = i
		}
	}
	return last, secondLast
}
