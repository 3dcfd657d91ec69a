package governance

import "sort"

// RankedRound captures one round of an instant-runoff tally, for audit
// and for the event log.
type RankedRound struct {
	RoundNumber   int
	VoteCounts    map[string]int
	Eliminated    string
	ExhaustedTotal int
}

// RankedChoiceResult is the outcome of a full instant-runoff tally.
type RankedChoiceResult struct {
	Winner string
	Rounds []RankedRound
}

// RankedChoiceTally runs instant-runoff voting over candidates using
// ballots' Preferences lists, per spec §4.8: each round sums
// first-preferences among non-eliminated candidates; a candidate
// exceeding a majority of non-exhausted ballots wins; otherwise the
// lowest-count candidate is eliminated (tiebreak: fewer later
// preferences across all ballots, then lexicographic) and the process
// repeats. Ballots with no remaining preference become exhausted and are
// excluded from the round's denominator.
func RankedChoiceTally(candidates []string, ballots map[string]Ballot) RankedChoiceResult {
	eliminated := make(map[string]bool, len(candidates))
	var rounds []RankedRound

	for round := 1; ; round++ {
		counts := make(map[string]int, len(candidates))
		for _, c := range candidates {
			if !eliminated[c] {
				counts[c] = 0
			}
		}

		exhausted := 0
		nonExhausted := 0
		for _, b := range ballots {
			choice := firstRemainingPreference(b.Preferences, eliminated)
			if choice == "" {
				exhausted++
				continue
			}
			counts[choice]++
			nonExhausted++
		}

		r := RankedRound{RoundNumber: round, VoteCounts: copyCounts(counts), ExhaustedTotal: exhausted}

		if nonExhausted == 0 {
			rounds = append(rounds, r)
			return RankedChoiceResult{Winner: "", Rounds: rounds}
		}

		for _, c := range candidates {
			if eliminated[c] {
				continue
			}
			if counts[c]*2 > nonExhausted {
				rounds = append(rounds, r)
				return RankedChoiceResult{Winner: c, Rounds: rounds}
			}
		}

		remaining := remainingCandidates(candidates, eliminated)
		if len(remaining) <= 1 {
			rounds = append(rounds, r)
			winner := ""
			if len(remaining) == 1 {
				winner = remaining[0]
			}
			return RankedChoiceResult{Winner: winner, Rounds: rounds}
		}

		loser := eliminateLowest(remaining, counts, ballots)
		r.Eliminated = loser
		rounds = append(rounds, r)
		eliminated[loser] = true
	}
}

func firstRemainingPreference(prefs []string, eliminated map[string]bool) string {
	for _, p := range prefs {
		if !eliminated[p] {
			return p
		}
	}
	return ""
}

func remainingCandidates(candidates []string, eliminated map[string]bool) []string {
	var out []string
	for _, c := range candidates {
		if !eliminated[c] {
			out = append(out, c)
		}
	}
	return out
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// eliminateLowest picks the candidate to drop this round: lowest vote
// count; ties broken by fewer later-preference appearances across all
// ballots (a candidate rarely listed as a fallback is the weaker
// consensus choice), then lexicographically by name.
func eliminateLowest(remaining []string, counts map[string]int, ballots map[string]Ballot) string {
	min := counts[remaining[0]]
	for _, c := range remaining {
		if counts[c] < min {
			min = counts[c]
		}
	}

	var tied []string
	for _, c := range remaining {
		if counts[c] == min {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	laterCount := make(map[string]int, len(tied))
	for _, b := range ballots {
		for i, p := range b.Preferences {
			if i == 0 {
				continue
			}
			laterCount[p]++
		}
	}

	// Fewer later-preference appearances loses first (weaker fallback
	// support); a full tie falls back to eliminating the
	// lexicographically greater name, so the lesser name survives.
	sort.Slice(tied, func(i, j int) bool {
		ci, cj := laterCount[tied[i]], laterCount[tied[j]]
		if ci != cj {
			return ci < cj
		}
		return tied[i] > tied[j]
	})
	return tied[0]
}
