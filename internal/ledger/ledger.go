// Package ledger persists prediction results per user.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"yashubustudio/nutriscan/predictor"
)

// TimestampLayout is the stored created_at format.
const TimestampLayout = "2006-01-02 15:04:05"

// MaxDeficiencyLength caps the stored deficiency text, in runes.
const MaxDeficiencyLength = 500

var (
	// ErrNotFound is returned when no record with the id belongs to the identity.
	ErrNotFound = errors.New("record not found")
	// ErrIdentityRequired is returned for operations without a user identity.
	ErrIdentityRequired = errors.New("user identity required")
)

// VitaminRecord is one persisted prediction outcome.
type VitaminRecord struct {
	ID               int64  `json:"id" db:"id"`
	UserIdentity     string `json:"user_identity" db:"user_identity"`
	MappedDeficiency string `json:"vitamin" db:"vitamin"`
	Timestamp        string `json:"created_at" db:"created_at"`
}

// Store is the persistence backend. Implementations must scope reads and deletes by identity.
type Store interface {
	Insert(ctx context.Context, rec VitaminRecord) (VitaminRecord, error)
	ListFor(ctx context.Context, identity string) ([]VitaminRecord, error)
	Delete(ctx context.Context, identity string, id int64) error
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRecordHook registers a callback invoked after every successful insert.
func WithRecordHook(fn func(VitaminRecord)) Option {
	return func(l *Ledger) { l.onRecord = fn }
}

// Ledger is the append-only result log.
type Ledger struct {
	store    Store
	now      func() time.Time
	onRecord func(VitaminRecord)
}

// New returns a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends the result for identity.
func (l *Ledger) Record(ctx context.Context, identity string, result predictor.PredictionResult) (VitaminRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return VitaminRecord{}, ErrIdentityRequired
	}
	rec, err := l.store.Insert(ctx, VitaminRecord{
		UserIdentity:     identity,
		MappedDeficiency: truncateRunes(result.MappedDeficiency, MaxDeficiencyLength),
		Timestamp:        l.now().UTC().Format(TimestampLayout),
	})
	if err != nil {
		return VitaminRecord{}, err
	}
	if l.onRecord != nil {
		l.onRecord(rec)
	}
	return rec, nil
}

// RecordPrediction records the result and returns only its id.
func (l *Ledger) RecordPrediction(ctx context.Context, identity string, result predictor.PredictionResult) (int64, error) {
	rec, err := l.Record(ctx, identity, result)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// ListFor returns identity's records in insertion order.
func (l *Ledger) ListFor(ctx context.Context, identity string) ([]VitaminRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	return l.store.ListFor(ctx, identity)
}

// Delete removes record id if it belongs to identity.
func (l *Ledger) Delete(ctx context.Context, identity string, id int64) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrIdentityRequired
	}
	return l.store.Delete(ctx, identity, id)
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
