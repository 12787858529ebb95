// Package consensus implements the pure vote-tally helper: it never looks
// at reasoning strings and never performs I/O.
package consensus

import "github.com/cuemby/meshbroker/pkg/types"

// Tally applies the majority rule of spec §4.G to a vote map. Let N be the
// number of votes: approved iff agree > N/2, rejected iff disagree > N/2,
// deadlock otherwise (including ties). Confidence is the winning fraction
// for approved/rejected, or 0.5 for a deadlock.
func Tally(votes map[string]types.Vote) (types.ConsensusOutcome, float64) {
	n := len(votes)
	if n == 0 {
		return types.ConsensusDeadlock, 0.5
	}

	var agree, disagree int
	for _, v := range votes {
		switch v.Choice {
		case types.VoteAgree:
			agree++
		case types.VoteDisagree:
			disagree++
		}
	}

	half := float64(n) / 2

	if float64(agree) > half {
		return types.ConsensusApproved, float64(agree) / float64(n)
	}
	if float64(disagree) > half {
		return types.ConsensusRejected, float64(disagree) / float64(n)
	}
	return types.ConsensusDeadlock, 0.5
}
