// Package criterion describes the abstract filters used to select messages during a fetch.
// Each fetcher translates a Criterion into its own protocol's query grammar.
package criterion

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tag names a criterion.
type Tag string

// Criterion tags without an argument.
const (
	All        Tag = "ALL"
	Seen       Tag = "SEEN"
	Unseen     Tag = "UNSEEN"
	Answered   Tag = "ANSWERED"
	Unanswered Tag = "UNANSWERED"
	Draft      Tag = "DRAFT"
	Undraft    Tag = "UNDRAFT"
	Flagged    Tag = "FLAGGED"
	Unflagged  Tag = "UNFLAGGED"
	Deleted    Tag = "DELETED"
	Undeleted  Tag = "UNDELETED"
	Recent     Tag = "RECENT"
	New        Tag = "NEW"
	Old        Tag = "OLD"
	Daily      Tag = "DAILY"
	Weekly     Tag = "WEEKLY"
	Monthly    Tag = "MONTHLY"
	Annually   Tag = "ANNUALLY"
)

// Criterion tags that take an argument.
const (
	Keyword   Tag = "KEYWORD"
	Unkeyword Tag = "UNKEYWORD"
	Larger    Tag = "LARGER"
	Smaller   Tag = "SMALLER"
	Subject   Tag = "SUBJECT"
	Body      Tag = "BODY"
	From      Tag = "FROM"
	SentSince Tag = "SENTSINCE"
)

// DateFormat is the layout of the SENTSINCE argument.
const DateFormat = "2006-01-02"

var (
	// ErrUnknownTag indicates the tag is not a criterion.
	ErrUnknownTag = errors.New("unknown fetching criterion")

	// ErrBadArgument indicates a missing or malformed criterion argument.
	ErrBadArgument = errors.New("invalid fetching criterion argument")
)

var windows = map[Tag]time.Duration{
	Daily:    24 * time.Hour,
	Weekly:   7 * 24 * time.Hour,
	Monthly:  28 * 24 * time.Hour,
	Annually: 365 * 24 * time.Hour,
}

var withArg = map[Tag]bool{
	Keyword:   true,
	Unkeyword: true,
	Larger:    true,
	Smaller:   true,
	Subject:   true,
	Body:      true,
	From:      true,
	SentSince: true,
}

var noArg = map[Tag]bool{
	All: true, Seen: true, Unseen: true, Answered: true, Unanswered: true, Draft: true,
	Undraft: true, Flagged: true, Unflagged: true, Deleted: true, Undeleted: true, Recent: true,
	New: true, Old: true, Daily: true, Weekly: true, Monthly: true, Annually: true,
}

// Criterion is a tag plus its optional argument.
type Criterion struct {
	Tag Tag
	Arg string
}

// ParseTag normalizes a user supplied tag; matching is case-insensitive and dashes are ignored,
// so "sent-since" and "SENTSINCE" are the same tag.
func ParseTag(s string) (Tag, error) {
	t := Tag(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "")))
	if !noArg[t] && !withArg[t] {
		return "", fmt.Errorf("%w: %q", ErrUnknownTag, s)
	}
	return t, nil
}

// Parse builds and validates a Criterion.  An empty tag means ALL.
func Parse(tag, arg string) (Criterion, error) {
	if strings.TrimSpace(tag) == "" {
		tag = string(All)
	}
	t, err := ParseTag(tag)
	if err != nil {
		return Criterion{}, err
	}
	c := Criterion{Tag: t, Arg: arg}
	if err := c.Validate(); err != nil {
		return Criterion{}, err
	}
	return c, nil
}

// Validate checks the tag is known and the argument is acceptable for it.
func (c Criterion) Validate() error {
	switch {
	case noArg[c.Tag]:
		return nil
	case !withArg[c.Tag]:
		return fmt.Errorf("%w: %q", ErrUnknownTag, c.Tag)
	case c.Arg == "":
		return fmt.Errorf("%w: %s requires an argument", ErrBadArgument, c.Tag)
	}

	switch c.Tag {
	case SentSince:
		if _, err := time.Parse(DateFormat, c.Arg); err != nil {
			return fmt.Errorf("%w: %s date %q must be formatted as %s", ErrBadArgument, c.Tag,
				c.Arg, DateFormat)
		}
	case Larger, Smaller:
		if _, err := c.Size(); err != nil {
			return err
		}
	}
	return nil
}

// HasArg reports whether the tag takes an argument.
func (t Tag) HasArg() bool {
	return withArg[t]
}

// IsWindow reports whether the tag is a relative time window.
func (t Tag) IsWindow() bool {
	_, ok := windows[t]
	return ok
}

// Cutoff returns the UTC instant a time-window criterion starts at, relative to now.  For
// SENTSINCE the argument date is returned.  ok is false for all other tags.
func (c Criterion) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	if d, found := windows[c.Tag]; found {
		return now.UTC().Add(-d), true
	}
	if c.Tag == SentSince {
		t, err := time.Parse(DateFormat, c.Arg)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Size returns the byte count argument of LARGER and SMALLER.
func (c Criterion) Size() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(c.Arg), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s size %q must be a non-negative integer", ErrBadArgument,
			c.Tag, c.Arg)
	}
	return n, nil
}

func (c Criterion) String() string {
	if c.Arg == "" {
		return string(c.Tag)
	}
	return string(c.Tag) + " " + strconv.Quote(c.Arg)
}

// Set is a collection of tags accepted by a fetcher.
type Set map[Tag]struct{}

// NewSet builds a Set from the listed tags.
func NewSet(tags ...Tag) Set {
	s := make(Set, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Everything returns a Set holding every known tag.
func Everything() Set {
	s := make(Set, len(noArg)+len(withArg))
	for t := range noArg {
		s[t] = struct{}{}
	}
	for t := range withArg {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s Set) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}

// Tags returns the set members in sorted order.
func (s Set) Tags() []Tag {
	tags := make([]Tag, 0, len(s))
	for t := range s {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
