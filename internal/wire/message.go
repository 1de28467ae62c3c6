package wire

import "github.com/pkg/errors"

// Tag identifies the phase of a datagram. Tag 1 is overloaded: on the
// proposers group it is a 1B promise, on the acceptors group a 1A
// prepare, and on the learners group a learner-to-learner update.
// Receivers disambiguate by the group they listen on plus chunk count.
type Tag int

const (
	TagSubmit  Tag = 0
	TagPhase1  Tag = 1
	TagPhase2  Tag = 2
	TagCatchup Tag = 3
	TagResend  Tag = 4
	TagRestart Tag = 5
)

// ErrUnknownMessage reports a tag/shape pair a listener does not handle.
var ErrUnknownMessage = errors.New("wire: unknown message")

// Message is any protocol datagram body.
type Message interface {
	Marshal() ([]byte, error)
}

// Submit carries a client value to the proposers group.
type Submit struct {
	Inst  int
	Value int
}

func (m Submit) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagSubmit), m.Value)
}

// Prepare is phase 1A, proposer to acceptors.
type Prepare struct {
	Inst int
	CRnd int
}

func (m Prepare) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagPhase1), m.CRnd)
}

// Promise is phase 1B, acceptor to proposers.
type Promise struct {
	Inst int
	Rnd  int
	VRnd int
	VVal int
}

func (m Promise) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagPhase1), m.Rnd, m.VRnd, m.VVal)
}

// Accept is phase 2A, proposer to acceptors.
type Accept struct {
	Inst int
	CRnd int
	CVal int
}

func (m Accept) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagPhase2), m.CRnd, m.CVal)
}

// Accepted is phase 2B, acceptor to learners.
type Accepted struct {
	Inst int
	VRnd int
	VVal int
}

func (m Accepted) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagPhase2), m.VRnd, m.VVal)
}

// CatchupRequest asks peer learners to replay their decided prefix.
type CatchupRequest struct {
	Learner int
}

func (m CatchupRequest) Marshal() ([]byte, error) {
	return Encode(m.Learner, int(TagCatchup))
}

// LearnerUpdate replays one decided value to the learners group.
type LearnerUpdate struct {
	Inst  int
	Value int
}

func (m LearnerUpdate) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagPhase1), m.Value)
}

// Resend2B asks acceptors to re-emit their vote for one instance.
type Resend2B struct {
	Inst int
}

func (m Resend2B) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagResend))
}

// Restart tells the proposer an instance is stuck in phase 1.
type Restart struct {
	Inst int
}

func (m Restart) Marshal() ([]byte, error) {
	return Encode(m.Inst, int(TagRestart))
}

// Kind names a message type for logs and metric labels.
func Kind(m Message) string {
	switch m.(type) {
	case Submit:
		return "submit"
	case Prepare:
		return "prepare"
	case Promise:
		return "promise"
	case Accept:
		return "accept"
	case Accepted:
		return "accepted"
	case CatchupRequest:
		return "catchup_request"
	case LearnerUpdate:
		return "learner_update"
	case Resend2B:
		return "resend_2b"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// ParseProposerBound interprets a datagram received on the proposers
// group: SUBMIT, PHASE_1B or RESTART.
func ParseProposerBound(chunks []int) (Message, error) {
	if len(chunks) < 2 {
		return nil, errors.Wrap(ErrUnknownMessage, "short chunk list")
	}
	switch Tag(chunks[1]) {
	case TagSubmit:
		if len(chunks) != 3 {
			break
		}
		return Submit{Inst: chunks[0], Value: chunks[2]}, nil
	case TagPhase1:
		if len(chunks) != 5 {
			break
		}
		return Promise{Inst: chunks[0], Rnd: chunks[2], VRnd: chunks[3], VVal: chunks[4]}, nil
	case TagRestart:
		if len(chunks) != 2 {
			break
		}
		return Restart{Inst: chunks[0]}, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "proposer bound, tag %d, %d chunks", chunks[1], len(chunks))
}

// ParseAcceptorBound interprets a datagram received on the acceptors
// group: PHASE_1A, PHASE_2A or RESEND_2B.
func ParseAcceptorBound(chunks []int) (Message, error) {
	if len(chunks) < 2 {
		return nil, errors.Wrap(ErrUnknownMessage, "short chunk list")
	}
	switch Tag(chunks[1]) {
	case TagPhase1:
		if len(chunks) != 3 {
			break
		}
		return Prepare{Inst: chunks[0], CRnd: chunks[2]}, nil
	case TagPhase2:
		if len(chunks) != 4 {
			break
		}
		return Accept{Inst: chunks[0], CRnd: chunks[2], CVal: chunks[3]}, nil
	case TagResend:
		if len(chunks) != 2 {
			break
		}
		return Resend2B{Inst: chunks[0]}, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "acceptor bound, tag %d, %d chunks", chunks[1], len(chunks))
}

// ParseLearnerBound interprets a datagram received on the learners
// group: PHASE_2B, CATCHUP_REQUEST or LEARNER_UPDATE.
func ParseLearnerBound(chunks []int) (Message, error) {
	if len(chunks) < 2 {
		return nil, errors.Wrap(ErrUnknownMessage, "short chunk list")
	}
	switch Tag(chunks[1]) {
	case TagPhase2:
		if len(chunks) != 4 {
			break
		}
		return Accepted{Inst: chunks[0], VRnd: chunks[2], VVal: chunks[3]}, nil
	case TagCatchup:
		if len(chunks) != 2 {
			break
		}
		return CatchupRequest{Learner: chunks[0]}, nil
	case TagPhase1:
		if len(chunks) != 3 {
			break
		}
		return LearnerUpdate{Inst: chunks[0], Value: chunks[2]}, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "learner bound, tag %d, %d chunks", chunks[1], len(chunks))
}
