package domain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// RequestID is the opaque fixed-size identifier of an aggregation request.
// It doubles as the idempotency key for every operation on the request.
type RequestID [32]byte

// NewRequestID derives a collision-resistant identifier from the request's
// parties, target and creation time plus a random component.
func NewRequestID(payer, payee Address, target Amount, createdAt time.Time) RequestID {
	nonce := uuid.New()

	buf := make([]byte, 0, 128)
	buf = append(buf, payer.String()...)
	buf = append(buf, 0)
	buf = append(buf, payee.String()...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint64(buf, uint64(target))
	buf = binary.BigEndian.AppendUint64(buf, uint64(createdAt.UnixNano()))
	buf = append(buf, nonce[:]...)

	return RequestID(blake3.Sum256(buf))
}

// ParseRequestID parses the hex text form produced by RequestID.String.
func ParseRequestID(s string) (RequestID, error) {
	var id RequestID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("%w: malformed request id: %v", ErrInvalidRequest, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("%w: request id must be %d bytes, got %d", ErrInvalidRequest, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex form of the id.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is unset.
func (id RequestID) IsZero() bool {
	return id == RequestID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id RequestID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RequestID) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Address is a domain-qualified identity such as "ethereum:0xabc".
type Address struct {
	Domain  string
	Account string
}

// ParseAddress parses the "domain:account" text form. The account part may
// itself contain colons.
func ParseAddress(s string) (Address, error) {
	domainPart, account, ok := strings.Cut(s, ":")
	if !ok || domainPart == "" || account == "" {
		return Address{}, fmt.Errorf("%w: address %q must be domain:account", ErrInvalidRequest, s)
	}
	return Address{Domain: domainPart, Account: account}, nil
}

// String returns the "domain:account" form.
func (a Address) String() string {
	return a.Domain + ":" + a.Account
}

// IsZero reports whether neither part is set.
func (a Address) IsZero() bool {
	return a.Domain == "" && a.Account == ""
}

// Validate checks both parts are present.
func (a Address) Validate() error {
	if a.Domain == "" || a.Account == "" {
		return errors.New("address must have a domain and an account")
	}
	return nil
}
