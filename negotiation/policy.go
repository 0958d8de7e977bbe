package negotiation

// Policy holds the negotiation knobs: hard per-category ceilings, the round
// limit, and the fixed compromise emitted when the limit is reached.
type Policy struct {
	MaxLikes        int
	MaxSubs         int
	MaxComments     int
	MaxWatchSeconds int
	MaxRounds       int
	FinalOffer      Terms
}

func DefaultPolicy() Policy {
	return Policy{
		MaxLikes:        10,
		MaxSubs:         2,
		MaxComments:     3,
		MaxWatchSeconds: 300,
		MaxRounds:       3,
		FinalOffer:      Terms{Likes: 5, Subs: 1, Comments: 0, WatchSeconds: 60},
	}
}

func normalizePolicy(p Policy) Policy {
	def := DefaultPolicy()
	if p.MaxLikes <= 0 {
		p.MaxLikes = def.MaxLikes
	}
	if p.MaxSubs <= 0 {
		p.MaxSubs = def.MaxSubs
	}
	if p.MaxComments <= 0 {
		p.MaxComments = def.MaxComments
	}
	if p.MaxWatchSeconds <= 0 {
		p.MaxWatchSeconds = def.MaxWatchSeconds
	}
	if p.MaxRounds <= 0 {
		p.MaxRounds = def.MaxRounds
	}
	if p.FinalOffer.IsZero() {
		p.FinalOffer = def.FinalOffer
	}
	return p
}

// NeedsNegotiation reports whether their proposal is too far from ours:
// any category more than 1.5x ours, or, when we ask for something, any
// category under half of ours.
func NeedsNegotiation(our, their Terms) bool {
	return categoryNeedsNegotiation(our.Likes, their.Likes) ||
		categoryNeedsNegotiation(our.Subs, their.Subs) ||
		categoryNeedsNegotiation(our.Comments, their.Comments) ||
		categoryNeedsNegotiation(our.WatchSeconds, their.WatchSeconds)
}

func categoryNeedsNegotiation(our, their int) bool {
	if float64(their) > 1.5*float64(our) {
		return true
	}
	if our > 0 && float64(their) < 0.5*float64(our) {
		return true
	}
	return false
}

// Acceptable reports whether every category is within the hard ceilings.
func (p Policy) Acceptable(terms Terms) bool {
	p = normalizePolicy(p)
	return terms.Likes <= p.MaxLikes &&
		terms.Subs <= p.MaxSubs &&
		terms.Comments <= p.MaxComments &&
		terms.WatchSeconds <= p.MaxWatchSeconds
}

// CounterTerms proposes the midpoint rounded toward ours for every category
// they pushed above ours, with a minimum step of 1; categories at or below
// ours keep our value.
func CounterTerms(our, their Terms) Terms {
	return Terms{
		Likes:        counterCategory(our.Likes, their.Likes),
		Subs:         counterCategory(our.Subs, their.Subs),
		Comments:     counterCategory(our.Comments, their.Comments),
		WatchSeconds: counterCategory(our.WatchSeconds, their.WatchSeconds),
	}
}

func counterCategory(our, their int) int {
	if their <= our {
		return our
	}
	step := (their - our) / 2
	if step < 1 {
		step = 1
	}
	return our + step
}

type EvaluationOutcome string

const (
	OutcomeAccept     EvaluationOutcome = "accept"
	OutcomeCounter    EvaluationOutcome = "counter"
	OutcomeFinalOffer EvaluationOutcome = "final_offer"
)

type Evaluation struct {
	Outcome EvaluationOutcome
	Terms   Terms
}

// Evaluate decides one negotiation round. round is the number of completed
// counter-offer rounds before this reply; once it reaches MaxRounds the
// fixed final compromise is emitted and the next reply is accept/reject only.
func (p Policy) Evaluate(our, their Terms, round int) Evaluation {
	p = normalizePolicy(p)
	if !NeedsNegotiation(our, their) && p.Acceptable(their) {
		return Evaluation{Outcome: OutcomeAccept, Terms: their}
	}
	if round >= p.MaxRounds {
		return Evaluation{Outcome: OutcomeFinalOffer, Terms: p.FinalOffer}
	}
	return Evaluation{Outcome: OutcomeCounter, Terms: CounterTerms(our, their)}
}
