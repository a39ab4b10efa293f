package secret

import (
	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/wire/secretcontrol"
)

// Apply folds a received, already-authenticated secret-control message
// into the store's state (spec §4.2). It returns only an error: notably
// ErrProtocolViolation for a notify_generation_range whose max is below
// the recorded minimum, and ErrUnknownSubtype for an unrecognised
// subtype.
func (s *Store) Apply(m *secretcontrol.Message) error {
	switch m.Subtype {
	case secretcontrol.UnknownPathSecret:
		return s.applyUnknownPathSecret(m.CredentialID)
	case secretcontrol.StaleKey:
		return s.applyStaleKey(m.CredentialID, m.MinKeyID)
	case secretcontrol.ReplayDetected:
		return s.applyReplayDetected(m.CredentialID, m.RejectedKeyID)
	case secretcontrol.NotifyGenerationRange:
		return s.applyNotifyGenerationRange(m.CredentialID, m.MinGeneration, m.MaxGeneration)
	case secretcontrol.RejectSequenceID, secretcontrol.RequestAdditionalSequence:
		// Per-queue backpressure signals; the store has no queue
		// state, so these are surfaced to the dispatcher layer
		// unchanged rather than applied here (see dispatch package).
		return nil
	}
	return ErrUnknownSubtype
}

// applyUnknownPathSecret handles a peer telling us it doesn't
// recognise a credential we believe is live: we mark it hard-retired
// so further sends fail fast and surface the need to re-handshake to
// the administrative layer rather than silently keep sending.
func (s *Store) applyUnknownPathSecret(id credential.ID) error {
	e := s.lookup(id)
	if e == nil {
		return nil
	}
	e.retire(s.epoch.now(), true)
	return nil
}

// applyStaleKey raises our sealer's floor so we stop minting packets
// under key ids the peer has already discarded.
func (s *Store) applyStaleKey(id credential.ID, minKeyID uint64) error {
	e := s.lookup(id)
	if e == nil {
		return ErrUnknownID
	}
	sealer, err := e.Sealer()
	if err != nil {
		return err
	}
	sealer.mu.Lock()
	defer sealer.mu.Unlock()
	if minKeyID > sealer.chain.currentKeyID {
		if _, err := sealer.chain.keyAt(minKeyID); err != nil {
			return err
		}
		sealer.recordsUnderCurrentKey = 0
	}
	return nil
}

// applyReplayDetected is advisory: if the rejected key id is at or
// above the sealer's current key id, it forces the sealer to rotate so
// that key id is never reused. It updates no metrics counter.
func (s *Store) applyReplayDetected(id credential.ID, rejectedKeyID uint64) error {
	e := s.lookup(id)
	if e == nil {
		return ErrUnknownID
	}
	sealer, err := e.Sealer()
	if err != nil {
		return err
	}
	sealer.mu.Lock()
	defer sealer.mu.Unlock()
	if rejectedKeyID >= sealer.chain.currentKeyID {
		sealer.recordsUnderCurrentKey = sealer.maxRecords
	}
	return nil
}

// applyNotifyGenerationRange records the live generation range; per
// spec §9 Open Questions, max < current_min is a protocol violation.
func (s *Store) applyNotifyGenerationRange(id credential.ID, min, max uint64) error {
	e := s.lookup(id)
	if e == nil {
		return ErrUnknownID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasGenerationRange && max < e.minGeneration {
		return ErrProtocolViolation
	}
	e.minGeneration = min
	e.maxGeneration = max
	e.hasGenerationRange = true
	return nil
}
