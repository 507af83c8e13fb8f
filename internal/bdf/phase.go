package bdf

type Phase int

const (
	Uninitialized Phase = iota
	Initializing
	Stepping
	Completed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Stepping:
		return "stepping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}
