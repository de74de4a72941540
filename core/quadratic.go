package core

// QuadraticVoteCost returns the quadratic-voting credit cost of casting
// votes votes: votes^2, the standard quadratic-funding/quadratic-voting
// cost curve.
func QuadraticVoteCost(votes float64) float64 {
	return votes * votes
}
