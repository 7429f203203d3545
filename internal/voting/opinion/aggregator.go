// Package opinion reduces peer opinions on a case to a single recommendation.
//
// Aggregate is pure: it performs no I/O and does not log, so callers can
// report the tally however they like.
package opinion

import "github.com/vietddude/juror/internal/core/domain"

// Params controls how opinions are weighed.
type Params struct {
	// MinWeight is the weighted total the winning vote must reach.
	MinWeight float64
	// InsiderWeight is the weight of a non-insider opinion, in (0, 1].
	// Insider opinions always weigh 1.
	InsiderWeight float64
}

// Tally is the accumulated support for one vote value.
type Tally struct {
	Vote     int
	Insiders int
	Public   int
	Weight   float64
}

// Verdict is the outcome of an aggregation.
type Verdict struct {
	CaseID string
	// Winner is the first opinion carrying the winning vote. Nil when no
	// vote is confident enough.
	Winner *domain.Opinion
	Weight float64
	// Tallies are in order of first appearance.
	Tallies []Tally
}

// Confident reports whether the verdict carries a decision.
func (v Verdict) Confident() bool {
	return v.Winner != nil
}

// Aggregate weighs the opinions for a case and picks the vote with the
// highest total. Ties go to the vote that appears first in the input.
func Aggregate(caseID string, opinions []domain.Opinion, p Params) Verdict {
	v := Verdict{CaseID: caseID}
	if len(opinions) == 0 {
		return v
	}

	index := make(map[int]int, 4)
	first := make(map[int]int, 4)
	for i, op := range opinions {
		pos, ok := index[op.Vote]
		if !ok {
			pos = len(v.Tallies)
			index[op.Vote] = pos
			first[op.Vote] = i
			v.Tallies = append(v.Tallies, Tally{Vote: op.Vote})
		}
		if op.Insiders {
			v.Tallies[pos].Insiders++
		} else {
			v.Tallies[pos].Public++
		}
	}

	best := -1
	for i := range v.Tallies {
		t := &v.Tallies[i]
		// The conversion keeps the product from being fused into the sum.
		t.Weight = float64(t.Insiders) + float64(float64(t.Public)*p.InsiderWeight)
		if best < 0 || t.Weight > v.Tallies[best].Weight {
			best = i
		}
	}

	v.Weight = v.Tallies[best].Weight
	if v.Weight < p.MinWeight {
		return v
	}

	winner := opinions[first[v.Tallies[best].Vote]]
	v.Winner = &winner
	return v
}
