package consensus

import (
	"testing"

	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestTally(t *testing.T) {
	tests := []struct {
		name           string
		votes          map[string]types.Vote
		wantOutcome    types.ConsensusOutcome
		wantConfidence float64
	}{
		{
			name: "three agree one abstain is approved",
			votes: map[string]types.Vote{
				"a1": {Choice: types.VoteAgree},
				"a2": {Choice: types.VoteAgree},
				"a3": {Choice: types.VoteAgree},
				"a4": {Choice: types.VoteAbstain},
			},
			wantOutcome:    types.ConsensusApproved,
			wantConfidence: 0.75,
		},
		{
			name: "two disagree one agree is rejected",
			votes: map[string]types.Vote{
				"a1": {Choice: types.VoteDisagree},
				"a2": {Choice: types.VoteDisagree},
				"a3": {Choice: types.VoteAgree},
			},
			wantOutcome:    types.ConsensusRejected,
			wantConfidence: 2.0 / 3.0,
		},
		{
			name: "one-one tie is deadlock",
			votes: map[string]types.Vote{
				"a1": {Choice: types.VoteAgree},
				"a2": {Choice: types.VoteDisagree},
			},
			wantOutcome:    types.ConsensusDeadlock,
			wantConfidence: 0.5,
		},
		{
			name:           "no votes is deadlock",
			votes:          map[string]types.Vote{},
			wantOutcome:    types.ConsensusDeadlock,
			wantConfidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, confidence := Tally(tt.votes)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.InDelta(t, tt.wantConfidence, confidence, 0.0001)
		})
	}
}

func TestTallyConfidenceBounds(t *testing.T) {
	votes := map[string]types.Vote{
		"a1": {Choice: types.VoteAgree},
		"a2": {Choice: types.VoteAgree},
		"a3": {Choice: types.VoteAgree},
	}
	_, confidence := Tally(votes)
	assert.GreaterOrEqual(t, confidence, 0.5)
	assert.LessOrEqual(t, confidence, 1.0)
}

func TestTallyIgnoresReasoning(t *testing.T) {
	votes := map[string]types.Vote{
		"a1": {Choice: types.VoteAgree, Reasoning: "looks fine"},
		"a2": {Choice: types.VoteAgree, Reasoning: ""},
	}
	outcome, _ := Tally(votes)
	assert.Equal(t, types.ConsensusApproved, outcome)
}
