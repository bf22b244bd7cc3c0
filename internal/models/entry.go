package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrZeroAmount           = errors.New("amount must not be zero")
	ErrEmptyDescription     = errors.New("description is required")
	ErrDescriptionTooLong   = errors.New("description must be at most 255 characters")
	ErrDuplicateParticipant = errors.New("participants must not repeat")
	ErrInvalidEntryID       = errors.New("entry must have either id or tempId")
)

// MaxDescriptionLength bounds entry descriptions.
const MaxDescriptionLength = 255

// EntryID identifies an entry. It is either a PersistedID or a TempID.
type EntryID interface {
	fmt.Stringer
	entryID()
}

// PersistedID is a server-assigned entry id.
type PersistedID int64

func (PersistedID) entryID() {}

func (id PersistedID) String() string { return strconv.FormatInt(int64(id), 10) }

// TempID is a device-generated token for an entry whose add request has not
// been acknowledged yet. It is never sent to the server.
type TempID string

// NewTempID returns a fresh temporary entry id.
func NewTempID() TempID {
	return TempID("tmp-" + uuid.NewString())
}

func (TempID) entryID() {}

func (id TempID) String() string { return string(id) }

// IsTemp reports whether id is a temporary id.
func IsTemp(id EntryID) bool {
	_, ok := id.(TempID)
	return ok
}

// ParseEntryID parses a command-line style id: "tmp-..." tokens become a
// TempID, integers a PersistedID.
func ParseEntryID(s string) (EntryID, error) {
	if strings.HasPrefix(s, "tmp-") {
		return TempID(s), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid entry id %q", s)
	}
	return PersistedID(n), nil
}

// EntryKind distinguishes expenses from loans.
type EntryKind int

const (
	KindInvalid EntryKind = iota
	KindExpense
	KindLoan
)

func (k EntryKind) String() string {
	switch k {
	case KindExpense:
		return "expense"
	case KindLoan:
		return "loan"
	default:
		return "invalid"
	}
}

// Entry is a signed monetary record attributed to a payer.
type Entry struct {
	ID          EntryID
	RoomID      int64
	PayerID     UserID
	Username    string // payer's username
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time

	// Participants splits an expense. Nil means every current member.
	// Loans ignore it.
	Participants []UserID
}

// Kind derives the entry kind from the sign of the amount.
func (e Entry) Kind() EntryKind {
	switch e.Amount.Sign() {
	case 1:
		return KindExpense
	case -1:
		return KindLoan
	default:
		return KindInvalid
	}
}

// IsPending reports whether the entry still carries a temporary id.
func (e Entry) IsPending() bool {
	return e.ID != nil && IsTemp(e.ID)
}

// Validate checks the boundary rules for a new entry. The ledger never
// sees entries that fail here.
func (e Entry) Validate() error {
	if e.Amount.IsZero() {
		return ErrZeroAmount
	}
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		return ErrEmptyDescription
	}
	if len(desc) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	seen := make(map[UserID]bool, len(e.Participants))
	for _, p := range e.Participants {
		if seen[p] {
			return ErrDuplicateParticipant
		}
		seen[p] = true
	}
	return nil
}

type entryJSON struct {
	ID           *int64          `json:"id,omitempty"`
	TempID       string          `json:"tempId,omitempty"`
	RoomID       int64           `json:"roomId"`
	PayerID      UserID          `json:"payerId"`
	Username     string          `json:"username,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"createdAt"`
	Participants []UserID        `json:"participants"`
}

// MarshalJSON writes persisted ids as "id" and temporary ids as "tempId".
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		RoomID:       e.RoomID,
		PayerID:      e.PayerID,
		Username:     e.Username,
		Amount:       e.Amount,
		Description:  e.Description,
		CreatedAt:    e.CreatedAt,
		Participants: e.Participants,
	}
	switch id := e.ID.(type) {
	case PersistedID:
		n := int64(id)
		out.ID = &n
	case TempID:
		out.TempID = string(id)
	case nil:
	default:
		return nil, fmt.Errorf("unsupported entry id type %T", id)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{
		RoomID:       in.RoomID,
		PayerID:      in.PayerID,
		Username:     in.Username,
		Amount:       in.Amount,
		Description:  in.Description,
		CreatedAt:    in.CreatedAt,
		Participants: in.Participants,
	}
	switch {
	case in.ID != nil && in.TempID != "":
		return ErrInvalidEntryID
	case in.ID != nil:
		e.ID = PersistedID(*in.ID)
	case in.TempID != "":
		e.ID = TempID(in.TempID)
	}
	return nil
}
