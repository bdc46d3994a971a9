package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Post is the joined view-model unit emitted by a feed.
type Post struct {
	SubjectID      int64          `json:"subjectId"`
	Actor          common.Address `json:"actor"`
	ContentID      string         `json:"contentId"`
	Price          *big.Int       `json:"price"`
	StockRemaining int64          `json:"stockRemaining"`
	CreatedAt      time.Time      `json:"createdAt"`
	AcquiredAt     *time.Time     `json:"acquiredAt,omitempty"`
	Bookmarked     bool           `json:"bookmarked"`
	BookmarkCount  int64          `json:"bookmarkCount"`
	Content        *ContentRecord `json:"content,omitempty"`

	logIndex int64
}

func NewPost(creation RawEvent, contentID string) Post {
	return Post{
		SubjectID:      creation.SubjectID,
		Actor:          creation.Actor,
		ContentID:      contentID,
		Price:          creation.Price(),
		StockRemaining: creation.Amount(),
		CreatedAt:      creation.Timestamp(),
		logIndex:       creation.LogIndex,
	}
}

// LogIndex is the position of the creation event the post was joined from.
func (p Post) LogIndex() int64 { return p.logIndex }

// Clone returns a copy that shares no mutable state with p.
func (p Post) Clone() Post {
	c := p
	if p.Price != nil {
		c.Price = new(big.Int).Set(p.Price)
	}
	if p.AcquiredAt != nil {
		t := *p.AcquiredAt
		c.AcquiredAt = &t
	}
	if p.Content != nil {
		content := *p.Content
		content.Attributes = append([]Attribute(nil), p.Content.Attributes...)
		c.Content = &content
	}
	return c
}

// PostField names a field that can be edited optimistically.
type PostField string

const (
	FieldBookmarked     PostField = "bookmarked"
	FieldBookmarkCount  PostField = "bookmarkCount"
	FieldStockRemaining PostField = "stockRemaining"
)

func (p *Post) Field(f PostField) (any, error) {
	switch f {
	case FieldBookmarked:
		return p.Bookmarked, nil
	case FieldBookmarkCount:
		return p.BookmarkCount, nil
	case FieldStockRemaining:
		return p.StockRemaining, nil
	default:
		return nil, fmt.Errorf("unknown post field %q", f)
	}
}

func (p *Post) SetField(f PostField, v any) error {
	switch f {
	case FieldBookmarked:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("field %s expects bool, got %T", f, v)
		}
		p.Bookmarked = b
	case FieldBookmarkCount:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("field %s expects int64, got %T", f, v)
		}
		p.BookmarkCount = n
	case FieldStockRemaining:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("field %s expects int64, got %T", f, v)
		}
		p.StockRemaining = n
	default:
		return fmt.Errorf("unknown post field %q", f)
	}
	return nil
}
