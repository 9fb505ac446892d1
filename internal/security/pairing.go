package security

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/iris/internal/store"
)

// PairingAlphabet excludes visually ambiguous characters (I, O, 0, 1).
const PairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// PairingRequest is one outstanding short-code pairing handshake.
type PairingRequest struct {
	Code      string    `json:"code"`
	ChannelID string    `json:"channelId"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PairingStore issues and approves pairing codes, persisted to pairing.json.
// The on-disk document is the source of truth; every mutation re-reads it
// under the file lock so concurrent CLI and gateway processes stay coherent.
type PairingStore struct {
	file       *store.JSONFile
	ttl        time.Duration
	codeLength int
	now        func() time.Time
}

// NewPairingStore opens (or creates) pairing.json under dir.
func NewPairingStore(dir string, ttl time.Duration, codeLength int) (*PairingStore, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if codeLength <= 0 {
		codeLength = 8
	}
	f, err := store.NewJSONFile(dir + "/pairing.json")
	if err != nil {
		return nil, err
	}
	return &PairingStore{file: f, ttl: ttl, codeLength: codeLength, now: time.Now}, nil
}

// Issue returns the active code for (channelID, senderID), creating one when
// none exists. An unexpired request is returned verbatim rather than
// reissued. Fully expired requests are pruned on every call.
func (p *PairingStore) Issue(channelID, senderID string) (string, error) {
	var code string
	err := p.file.Update(func(decode func(any) error) (any, error) {
		var reqs []PairingRequest
		if err := decode(&reqs); err != nil {
			return nil, err
		}
		now := p.now()
		reqs = pruneExpired(reqs, now)

		for _, r := range reqs {
			if r.ChannelID == channelID && r.SenderID == senderID {
				code = r.Code
				return reqs, nil
			}
		}

		next, err := p.generateCode(reqs)
		if err != nil {
			return nil, err
		}
		code = next
		reqs = append(reqs, PairingRequest{
			Code:      next,
			ChannelID: channelID,
			SenderID:  senderID,
			CreatedAt: now,
			ExpiresAt: now.Add(p.ttl),
		})
		return reqs, nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Approve consumes a code (case-insensitive) and returns the paired
// identity, or ok=false when the code is unknown or expired. The request is
// deleted in the same write.
func (p *PairingStore) Approve(code string) (channelID, senderID string, ok bool, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	err = p.file.Update(func(decode func(any) error) (any, error) {
		var reqs []PairingRequest
		if err := decode(&reqs); err != nil {
			return nil, err
		}
		reqs = pruneExpired(reqs, p.now())

		kept := reqs[:0]
		for _, r := range reqs {
			if !ok && r.Code == code {
				channelID, senderID, ok = r.ChannelID, r.SenderID, true
				continue
			}
			kept = append(kept, r)
		}
		return kept, nil
	})
	if err != nil {
		return "", "", false, err
	}
	return channelID, senderID, ok, nil
}

// List returns all active requests.
func (p *PairingStore) List() ([]PairingRequest, error) {
	var reqs []PairingRequest
	if err := p.file.Load(&reqs); err != nil {
		return nil, err
	}
	return pruneExpired(reqs, p.now()), nil
}

// Revoke deletes any request for (channelID, senderID).
func (p *PairingStore) Revoke(channelID, senderID string) error {
	return p.file.Update(func(decode func(any) error) (any, error) {
		var reqs []PairingRequest
		if err := decode(&reqs); err != nil {
			return nil, err
		}
		kept := reqs[:0]
		for _, r := range reqs {
			if r.ChannelID == channelID && r.SenderID == senderID {
				continue
			}
			kept = append(kept, r)
		}
		return kept, nil
	})
}

// generateCode draws codeLength uniformly random alphabet characters,
// retrying on the (unlikely) collision with an active code.
func (p *PairingStore) generateCode(active []PairingRequest) (string, error) {
	taken := make(map[string]bool, len(active))
	for _, r := range active {
		taken[r.Code] = true
	}
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, p.codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		for i, b := range buf {
			buf[i] = PairingAlphabet[int(b)%len(PairingAlphabet)]
		}
		code := string(buf)
		if !taken[code] {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate pairing code: exhausted attempts")
}

func pruneExpired(reqs []PairingRequest, now time.Time) []PairingRequest {
	kept := reqs[:0]
	for _, r := range reqs {
		if r.ExpiresAt.After(now) {
			kept = append(kept, r)
		}
	}
	return kept
}
