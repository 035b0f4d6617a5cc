package dispatcher

import "fmt"

// OutcomeKind discriminates the three ways handling an event can end.
// Ignored is not a failure: the event was valid but not actionable (for
// example an unsuccessful authorization attempt).
type OutcomeKind int

const (
	KindSucceeded OutcomeKind = iota
	KindIgnored
	KindFailed
)

// IgnoreLevel conveys how interesting an ignored event is to an operator.
type IgnoreLevel int

const (
	IgnoreInfo IgnoreLevel = iota
	IgnoreWarning
)

type Outcome struct {
	Kind    OutcomeKind
	Message string
	Level   IgnoreLevel
	Err     error
}

func Succeed(format string, args ...interface{}) Outcome {
	return Outcome{Kind: KindSucceeded, Message: fmt.Sprintf(format, args...)}
}

func Ignore(level IgnoreLevel, format string, args ...interface{}) Outcome {
	return Outcome{Kind: KindIgnored, Level: level, Message: fmt.Sprintf(format, args...)}
}

func Fail(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err, Message: err.Error()}
}

// OK reports whether the outcome counts as a success for queue-status
// purposes. Ignored events are successes with an explanatory message.
func (o Outcome) OK() bool {
	return o.Kind != KindFailed
}
