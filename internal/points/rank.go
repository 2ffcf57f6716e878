package points

// Rank is the tier a point total falls in.
type Rank struct {
	Name      string `json:"name"`
	MinPoints int    `json:"minPoints"`
	NextAt    *int   `json:"nextAt,omitempty"`
}

var rankTiers = []Rank{
	{Name: "newcomer", MinPoints: 0},
	{Name: "supporter", MinPoints: 100},
	{Name: "activist", MinPoints: 600},
	{Name: "organizer", MinPoints: 3000},
	{Name: "leader", MinPoints: 8000},
	{Name: "champion", MinPoints: 20000},
}

// RankFor maps a point total to its tier. NextAt is nil on the top tier.
func RankFor(points int) Rank {
	idx := 0
	for i, tier := range rankTiers {
		if points >= tier.MinPoints {
			idx = i
		}
	}
	rank := rankTiers[idx]
	if idx+1 < len(rankTiers) {
		next := rankTiers[idx+1].MinPoints
		rank.NextAt = &next
	}
	return rank
}
