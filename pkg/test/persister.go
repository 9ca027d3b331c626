package test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/message"
	"github.com/inbucket/mailvault/pkg/storage"
)

// Persister is an in-memory storage.Persister and storage.HealthRecorder that records
// everything it receives.
type Persister struct {
	sync.Mutex
	Stored   map[string][]*message.Email // Keyed by mailbox key, in store order.
	Files    map[string]storage.Files    // Keyed by mailbox key + message id.
	Accounts map[string]error            // Last reported error per account id.
	Boxes    map[string]error            // Last reported error per mailbox key.
	StoreErr error                       // Returned by Store when set.
}

var (
	_ storage.Persister      = &Persister{}
	_ storage.HealthRecorder = &Persister{}
)

// NewPersister creates an empty Persister.
func NewPersister() *Persister {
	return &Persister{
		Stored:   make(map[string][]*message.Email),
		Files:    make(map[string]storage.Files),
		Accounts: make(map[string]error),
		Boxes:    make(map[string]error),
	}
}

// Exists implements storage.Persister.
func (p *Persister) Exists(_ context.Context, mb *account.Mailbox, messageID string) (bool, error) {
	p.Lock()
	defer p.Unlock()
	_, ok := p.Files[mb.Key()+messageID]
	return ok, nil
}

// Store implements storage.Persister.
func (p *Persister) Store(
	_ context.Context,
	mb *account.Mailbox,
	email *message.Email,
	files storage.Files,
) (bool, error) {
	p.Lock()
	defer p.Unlock()
	if p.StoreErr != nil {
		return false, p.StoreErr
	}
	key := mb.Key() + email.MessageID
	if _, ok := p.Files[key]; ok {
		return false, nil
	}
	p.Files[key] = files
	p.Stored[mb.Key()] = append(p.Stored[mb.Key()], email)
	return true, nil
}

// Emails implements storage.Persister.
func (p *Persister) Emails(_ context.Context, mb *account.Mailbox) ([]storage.Record, error) {
	p.Lock()
	defer p.Unlock()
	var out []storage.Record
	for _, e := range p.Stored[mb.Key()] {
		out = append(out, storage.Record{
			MessageID: e.MessageID,
			Date:      e.Date,
			Subject:   e.Subject,
			RawPath:   p.Files[mb.Key()+e.MessageID].Raw,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// RawPath implements storage.Persister.
func (p *Persister) RawPath(_ context.Context, mb *account.Mailbox, messageID string) (string, error) {
	p.Lock()
	defer p.Unlock()
	f, ok := p.Files[mb.Key()+messageID]
	if !ok || f.Raw == "" {
		return "", fmt.Errorf("%w: %s", storage.ErrNoRecord, messageID)
	}
	return f.Raw, nil
}

// Count returns the number of emails stored for mb.
func (p *Persister) Count(mb *account.Mailbox) int {
	p.Lock()
	defer p.Unlock()
	return len(p.Stored[mb.Key()])
}

// ReportAccount implements storage.HealthRecorder.
func (p *Persister) ReportAccount(_ context.Context, acct *account.Account, err error) error {
	p.Lock()
	defer p.Unlock()
	p.Accounts[acct.ID] = err
	return nil
}

// ReportMailbox implements storage.HealthRecorder.
func (p *Persister) ReportMailbox(_ context.Context, mb *account.Mailbox, err error) error {
	p.Lock()
	defer p.Unlock()
	p.Boxes[mb.Key()] = err
	return nil
}

// Health implements storage.HealthRecorder.
func (p *Persister) Health(context.Context) ([]storage.Health, error) {
	p.Lock()
	defer p.Unlock()
	var out []storage.Health
	add := func(scope string, states map[string]error) {
		keys := make([]string, 0, len(states))
		for k := range states {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h := storage.Health{Scope: scope, Key: k, Healthy: states[k] == nil, UpdatedAt: time.Now()}
			if err := states[k]; err != nil {
				h.LastError = err.Error()
				h.LastErrorAt = h.UpdatedAt
			}
			out = append(out, h)
		}
	}
	add(storage.ScopeAccount, p.Accounts)
	add(storage.ScopeMailbox, p.Boxes)
	return out, nil
}
