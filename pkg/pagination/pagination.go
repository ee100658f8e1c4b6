package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultLimit is the page size for bid listings when none is given.
	DefaultLimit = 25
	// MaxLimit caps how many rows a single page may hold.
	MaxLimit = 100
)

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is a position in a (created_at, id) ordered sequence. Rows at or
// before the cursor have already been delivered.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Compare orders two positions by time and then by id.
func Compare(aAt time.Time, aID uuid.UUID, bAt time.Time, bID uuid.UUID) int {
	if c := aAt.Compare(bAt); c != 0 {
		return c
	}
	return bytes.Compare(aID[:], bID[:])
}

// Precedes reports whether the row at (createdAt, id) comes strictly after c.
func (c Cursor) Precedes(createdAt time.Time, id uuid.UUID) bool {
	return Compare(c.CreatedAt, c.ID, createdAt, id) < 0
}

// NormalizeLimit enforces the default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Seek narrows query to rows after cursor and orders it ascending. Callers
// fetch limit+1 rows and pass them to Trim.
func Seek(query *gorm.DB, cursor *Cursor) *gorm.DB {
	if cursor != nil {
		at := cursor.CreatedAt.UTC()
		query = query.Where("((created_at > ?) OR (created_at = ? AND id > ?))", at, at, cursor.ID)
	}
	return query.Order("created_at ASC").Order("id ASC")
}

// Trim cuts rows down to limit and returns the encoded cursor of the last
// kept row when an extra row proved there is another page.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	if rows == nil {
		rows = []T{}
	}
	if limit <= 0 || len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	return rows, EncodeCursor(cursorOf(rows[limit-1]))
}

const cursorSize = 8 + 16

// EncodeCursor packs the position as big-endian unix nanoseconds followed by
// the id bytes, base64url encoded without padding.
func EncodeCursor(cursor Cursor) string {
	buf := make([]byte, 0, cursorSize)
	buf = binary.BigEndian.AppendUint64(buf, uint64(cursor.CreatedAt.UnixNano()))
	buf = append(buf, cursor.ID[:]...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseCursor decodes a cursor produced by EncodeCursor. A blank value means
// the first page and yields nil.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if len(raw) != cursorSize {
		return nil, fmt.Errorf("cursor has %d bytes, want %d", len(raw), cursorSize)
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil {
		return nil, fmt.Errorf("cursor id: %w", err)
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8]))
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
