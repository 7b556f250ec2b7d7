package duel

// Outcome of a concluded match, from the local peer's point of view.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Submission is one peer's self-reported answer. MsTaken is measured on the
// submitting peer's own clock between countdown end and submit; nobody
// recomputes it. SelectedIndex -1 means the answer window elapsed with no
// answer chosen.
type Submission struct {
	PeerID        string `json:"peerId"`
	SelectedIndex int    `json:"selectedIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	MsTaken       int64  `json:"msTaken"`
}

// Resolve computes the match outcome for the owner of own. Both peers run
// this same function over the same two submissions once both reveals are
// known locally, so outcomes agree without a referee: it is deterministic and
// anti-symmetric (swapping the arguments flips win and loss, draws stay
// draws).
func Resolve(own, remote Submission) Outcome {
	switch {
	case own.IsCorrect && remote.IsCorrect:
		switch {
		case own.MsTaken < remote.MsTaken:
			return OutcomeWin
		case own.MsTaken > remote.MsTaken:
			return OutcomeLoss
		default:
			return OutcomeDraw
		}
	case own.IsCorrect:
		return OutcomeWin
	case remote.IsCorrect:
		return OutcomeLoss
	default:
		return OutcomeDraw
	}
}
