package model

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeEmpty
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	default:
		return "failed"
	}
}

// FetchOutcome is the tagged result of one upstream sub-fetch.
type FetchOutcome[T any] struct {
	Kind OutcomeKind
	Data T
	Err  error
}

func Success[T any](data T) FetchOutcome[T] {
	return FetchOutcome[T]{Kind: OutcomeSuccess, Data: data}
}

func Empty[T any]() FetchOutcome[T] {
	return FetchOutcome[T]{Kind: OutcomeEmpty}
}

func Failed[T any](err error) FetchOutcome[T] {
	return FetchOutcome[T]{Kind: OutcomeFailed, Err: err}
}

func (o FetchOutcome[T]) OK() bool     { return o.Kind == OutcomeSuccess }
func (o FetchOutcome[T]) Failed() bool { return o.Kind == OutcomeFailed }
