package mailbox

// PushKind classifies the outcome of one idle wait.
type PushKind int

const (
	// PushTimeout: the wait elapsed without server activity. This is the
	// steady-state "nothing happened" outcome, not an error.
	PushTimeout PushKind = iota
	// PushExists: the server reported a change in the number of messages.
	PushExists
	// PushOther: some other unsolicited update (flags, expunge, ...).
	PushOther
)

// Push is what an idle wait came back with.
type Push struct {
	Kind PushKind
	// Messages is the new message count reported with an EXISTS update.
	Messages uint32
}

func (k PushKind) String() string {
	switch k {
	case PushTimeout:
		return "timeout"
	case PushExists:
		return "exists"
	case PushOther:
		return "other"
	}
	return "unknown"
}
