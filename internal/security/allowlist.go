package security

import (
	"time"

	"github.com/nextlevelbuilder/iris/internal/store"
)

// AllowlistEntry records one approved (channel, sender) pair.
type AllowlistEntry struct {
	ChannelID  string    `json:"channelId"`
	SenderID   string    `json:"senderId"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// AllowlistStore persists approvals to allowlist.json. Set-unique on
// (channelId, senderId); re-adding an existing pair is a no-op.
type AllowlistStore struct {
	file *store.JSONFile
	now  func() time.Time
}

// NewAllowlistStore opens (or creates) allowlist.json under dir.
func NewAllowlistStore(dir string) (*AllowlistStore, error) {
	f, err := store.NewJSONFile(dir + "/allowlist.json")
	if err != nil {
		return nil, err
	}
	return &AllowlistStore{file: f, now: time.Now}, nil
}

// Add approves (channelID, senderID). Idempotent.
func (a *AllowlistStore) Add(channelID, senderID, approvedBy string) error {
	return a.file.Update(func(decode func(any) error) (any, error) {
		var entries []AllowlistEntry
		if err := decode(&entries); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.ChannelID == channelID && e.SenderID == senderID {
				return entries, nil
			}
		}
		return append(entries, AllowlistEntry{
			ChannelID:  channelID,
			SenderID:   senderID,
			ApprovedBy: approvedBy,
			ApprovedAt: a.now(),
		}), nil
	})
}

// Has reports whether (channelID, senderID) is approved.
func (a *AllowlistStore) Has(channelID, senderID string) (bool, error) {
	var entries []AllowlistEntry
	if err := a.file.Load(&entries); err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ChannelID == channelID && e.SenderID == senderID {
			return true, nil
		}
	}
	return false, nil
}

// List returns all approvals.
func (a *AllowlistStore) List() ([]AllowlistEntry, error) {
	var entries []AllowlistEntry
	if err := a.file.Load(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove revokes an approval.
func (a *AllowlistStore) Remove(channelID, senderID string) error {
	return a.file.Update(func(decode func(any) error) (any, error) {
		var entries []AllowlistEntry
		if err := decode(&entries); err != nil {
			return nil, err
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.ChannelID == channelID && e.SenderID == senderID {
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
}
