package secretcontrol

import "github.com/katzenpost/dctransport/credential"

// The following constructors build each of the six message shapes of
// spec §4.2's catalogue table; they exist to keep callers (the
// path-secret store and the dispatcher) from having to remember which
// struct fields are meaningful for which Subtype.

func NewUnknownPathSecret(id credential.ID) *Message {
	return &Message{CredentialID: id, Subtype: UnknownPathSecret}
}

func NewStaleKey(id credential.ID, minKeyID uint64) *Message {
	return &Message{CredentialID: id, Subtype: StaleKey, MinKeyID: minKeyID}
}

func NewReplayDetected(id credential.ID, rejectedKeyID uint64) *Message {
	return &Message{CredentialID: id, Subtype: ReplayDetected, RejectedKeyID: rejectedKeyID}
}

func NewNotifyGenerationRange(id credential.ID, min, max uint64) *Message {
	return &Message{CredentialID: id, Subtype: NotifyGenerationRange, MinGeneration: min, MaxGeneration: max}
}

func NewRejectSequenceID(id credential.ID, generation, sequence, maxGeneration uint64) *Message {
	return &Message{
		CredentialID: id, Subtype: RejectSequenceID,
		Generation: generation, Sequence: sequence, SeqMaxGeneration: maxGeneration,
	}
}

func NewRequestAdditionalSequence(id credential.ID, generation, sequence, maxGeneration uint64) *Message {
	return &Message{
		CredentialID: id, Subtype: RequestAdditionalSequence,
		Generation: generation, Sequence: sequence, SeqMaxGeneration: maxGeneration,
	}
}
