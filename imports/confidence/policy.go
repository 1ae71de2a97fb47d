package confidence

type Decision string

const (
	DecisionAutoApprove Decision = "auto_approve"
	DecisionConfirm     Decision = "confirm"
	DecisionBlock       Decision = "block"
)

// Policy turns a gate's overall score into a decision. Block is the floor:
// scores at or below it are blocked; unknown (zero) is always blocked.
type Policy struct {
	AutoApprove float64
	Confirm     float64
	Block       float64
}

func DefaultPolicy() Policy {
	return Policy{AutoApprove: 0.85, Confirm: 0.70, Block: 0}
}

func (p Policy) Decide(g *Gate) Decision {
	overall := g.Overall()
	switch {
	case g.Level() == LevelUnknown || overall <= p.Block:
		return DecisionBlock
	case overall >= p.AutoApprove:
		return DecisionAutoApprove
	case overall >= p.Confirm:
		return DecisionConfirm
	}
	return DecisionBlock
}
