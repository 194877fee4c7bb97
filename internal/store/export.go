package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// PortableRecord is the self-describing export shape. The schema version
// travels with the record so an import can reject shapes it does not
// understand instead of mangling them.
type PortableRecord struct {
	SchemaVersion int             `json:"schema_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	Session       json.RawMessage `json:"session"`
}

// Export returns a portable record for the session.
func (s *SessionStore) Export(id string) (*PortableRecord, error) {
	sess, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session for export: %w", err)
	}
	logging.Store("Exported session %s (%d bytes)", id, len(payload))
	return &PortableRecord{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now(),
		Session:       payload,
	}, nil
}

// ValidateImport checks a portable record without storing anything. A
// version the store does not recognize and a structurally broken payload
// are reported as distinct kinds.
func (s *SessionStore) ValidateImport(rec *PortableRecord) ImportCheck {
	if rec == nil || len(rec.Session) == 0 {
		return ImportCheck{Kind: "format", Err: ErrMalformedRecord}
	}
	if rec.SchemaVersion <= 0 || rec.SchemaVersion > SchemaVersion {
		return ImportCheck{Kind: "version",
			Err: fmt.Errorf("%w: got v%d, support up to v%d", ErrVersionMismatch, rec.SchemaVersion, SchemaVersion)}
	}
	var sess game.Session
	if err := json.Unmarshal(rec.Session, &sess); err != nil {
		return ImportCheck{Kind: "format", Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)}
	}
	if len(sess.Characters) == 0 {
		return ImportCheck{Kind: "format", Err: fmt.Errorf("%w: no characters", ErrMalformedRecord)}
	}
	return ImportCheck{Valid: true}
}

// Import validates and stores a portable record under a fresh ID, so an
// import can never clobber an existing session. Returns the new ID.
func (s *SessionStore) Import(rec *PortableRecord) (string, error) {
	if check := s.ValidateImport(rec); !check.Valid {
		return "", check.Err
	}

	var sess game.Session
	if err := json.Unmarshal(rec.Session, &sess); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	sess.ID = uuid.NewString()
	sess.LastPlayed = time.Now()
	if err := s.Save(&sess); err != nil {
		return "", err
	}
	logging.Store("Imported session as %s (%q)", sess.ID, sess.Title)
	return sess.ID, nil
}
