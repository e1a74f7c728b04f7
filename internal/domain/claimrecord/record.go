// Package claimrecord keeps the adjudicated claim produced for each processed
// note.
package claimrecord

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/claimsense/claimsense/internal/domain/billing"
	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/platform/jsonstore"
)

type Record struct {
	ClaimID        string           `json:"claim_id"`
	NoteID         string           `json:"note_id"`
	NoteFilename   string           `json:"note_filename"`
	Decision       billing.Decision `json:"decision"`
	AmountApproved *decimal.Decimal `json:"amount_approved,omitempty"`
	Reason         string           `json:"reason"`
	ReasonCodes    []string         `json:"reason_codes"`
	CreatedAt      time.Time        `json:"created_at"`
	PatientName    string           `json:"patient_name"`
	ProviderName   string           `json:"provider_name"`
	ClaimData      claim.Claim      `json:"claim_data"`
}

func (r Record) Key() string          { return r.ClaimID }
func (r Record) Timestamp() time.Time { return r.CreatedAt }

// New builds the record for a claim submitted on behalf of a note.
func New(noteID, filename string, c claim.Claim, resp billing.PayerResponse) Record {
	codes := resp.ReasonCodes
	if codes == nil {
		codes = []string{}
	}
	return Record{
		ClaimID:        resp.ClaimID,
		NoteID:         noteID,
		NoteFilename:   filename,
		Decision:       resp.Decision,
		AmountApproved: resp.AmountApproved,
		Reason:         resp.Reason,
		ReasonCodes:    codes,
		CreatedAt:      resp.Timestamp,
		PatientName:    c.Patient.FullName(),
		ProviderName:   c.Provider.Name,
		ClaimData:      c,
	}
}

// Store is the append-only claim record collection.
type Store struct {
	c *jsonstore.Collection[Record]
}

func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	c, err := jsonstore.Open[Record](path, jsonstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open claims: %w", err)
	}
	return &Store{c: c}, nil
}

// Insert adds r. Records are never replaced; an existing claim id fails
// with jsonstore.ErrExists.
func (s *Store) Insert(r Record) error {
	if r.ClaimID == "" {
		return fmt.Errorf("insert claim record: claim_id is required")
	}
	if err := s.c.Insert(r); err != nil {
		return fmt.Errorf("insert claim record %s: %w", r.ClaimID, err)
	}
	return nil
}

func (s *Store) Get(id string) (Record, error) {
	r, err := s.c.Get(id)
	if err != nil {
		return Record{}, fmt.Errorf("claim record %s: %w", id, err)
	}
	return r, nil
}

// List returns every record, newest first.
func (s *Store) List() []Record {
	return s.c.List()
}
