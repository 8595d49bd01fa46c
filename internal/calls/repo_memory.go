package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store + Directory for tests and early
// development. It enforces org isolation on reads the same way the Postgres
// implementation does.
type MemoryStore struct {
	mu sync.Mutex

	Calls map[string]Call // keyed by call id

	PrimaryNumbers map[string]string    // org_id -> number
	Endpoints      map[string]Endpoint  // org_id|member_id -> endpoint
	Members        map[string][]Member  // org_id -> roster
	Contacts       map[string]Contact   // org_id|contact_id
	Attempts       map[string]int       // org_id|call_list_id|contact_id -> count
	LastAttempt    map[string]time.Time // same key -> last attempt
	AttemptErr     error                // injectable failure for best-effort paths
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Calls:          map[string]Call{},
		PrimaryNumbers: map[string]string{},
		Endpoints:      map[string]Endpoint{},
		Members:        map[string][]Member{},
		Contacts:       map[string]Contact{},
		Attempts:       map[string]int{},
		LastAttempt:    map[string]time.Time{},
	}
}

func (s *MemoryStore) Insert(ctx context.Context, call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls[call.ID] = call
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, orgID, callID string) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Calls[callID]
	if !ok || c.OrgID != orgID {
		return Call{}, false, nil
	}
	return c, true, nil
}

func (s *MemoryStore) ListOpen(ctx context.Context, orgID string) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.Calls {
		if c.OrgID == orgID && c.EndedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStartedSince(ctx context.Context, orgID string, since time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.Calls {
		if c.OrgID == orgID && !c.StartedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkTimedOut(ctx context.Context, orgID, callID string, patch Metadata, endedAt time.Time) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Calls[callID]
	if !ok || c.OrgID != orgID {
		return Call{}, ErrNotFound
	}
	if c.EndedAt != nil {
		return Call{}, ErrAlreadyEnded
	}
	c.Status = CallStatusFailed
	c.EndedAt = &endedAt
	dur := int(endedAt.Sub(c.StartedAt).Seconds())
	if dur < 0 {
		dur = 0
	}
	c.DurationSeconds = dur
	c.Metadata = c.Metadata.Merge(patch)
	c.UpdatedAt = endedAt
	s.Calls[callID] = c
	return c, nil
}

func (s *MemoryStore) ApplyLifecycle(ctx context.Context, orgID, externalID string, update LifecycleUpdate) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.Calls {
		if c.OrgID != orgID || c.ExternalID != externalID {
			continue
		}
		if update.Status != "" {
			c.Status = update.Status
		}
		if update.EndedAt != nil {
			c.EndedAt = update.EndedAt
		}
		if update.DurationSeconds > 0 {
			c.DurationSeconds = update.DurationSeconds
		} else if c.EndedAt != nil && c.DurationSeconds == 0 {
			c.DurationSeconds = int(c.EndedAt.Sub(c.StartedAt).Seconds())
		}
		if update.BridgeStatus != "" {
			c.BridgeStatus = update.BridgeStatus
		}
		c.Metadata = c.Metadata.Merge(update.Metadata)
		c.UpdatedAt = update.At
		s.Calls[id] = c
		return c, nil
	}
	return Call{}, ErrNotFound
}

func (s *MemoryStore) FindOrgByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Calls {
		if c.ExternalID == externalID {
			return c.OrgID, true, nil
		}
	}
	return "", false, nil
}

/* ===================== Directory ===================== */

func (s *MemoryStore) PrimaryOutboundNumber(ctx context.Context, orgID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.PrimaryNumbers[orgID]
	return n, ok, nil
}

func (s *MemoryStore) AgentEndpoint(ctx context.Context, orgID, memberID string) (Endpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.Endpoints[orgID+"|"+memberID]
	return ep, ok, nil
}

func (s *MemoryStore) ListActiveMembers(ctx context.Context, orgID string) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Member, 0)
	for _, m := range s.Members[orgID] {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, orgID, contactID string) (Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Contacts[orgID+"|"+contactID]
	return c, ok, nil
}

func (s *MemoryStore) RecordCampaignAttempt(ctx context.Context, orgID, callListID, contactID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AttemptErr != nil {
		return s.AttemptErr
	}
	key := orgID + "|" + callListID + "|" + contactID
	s.Attempts[key]++
	s.LastAttempt[key] = at
	return nil
}
