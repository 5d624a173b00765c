package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// TagSet is a deduplicated, sorted set of tags stored as comma-separated text.
type TagSet []string

// NewTagSet normalises raw tag values into a sorted set.
func NewTagSet(raw []string) TagSet {
	seen := make(map[string]struct{}, len(raw))
	result := make(TagSet, 0, len(raw))
	for _, tag := range raw {
		trimmed := strings.ToLower(strings.TrimSpace(tag))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	sort.Strings(result)
	return result
}

// ParseTagSet splits a comma-separated string into a TagSet.
func ParseTagSet(raw string) TagSet {
	if strings.TrimSpace(raw) == "" {
		return TagSet{}
	}
	return NewTagSet(strings.Split(raw, ","))
}

// Value implements driver.Valuer.
func (t TagSet) Value() (driver.Value, error) {
	return strings.Join(t, ","), nil
}

// Scan implements sql.Scanner.
func (t *TagSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = TagSet{}
		return nil
	case string:
		*t = ParseTagSet(v)
		return nil
	case []byte:
		*t = ParseTagSet(string(v))
		return nil
	default:
		return fmt.Errorf("unsupported tags column type %T", src)
	}
}
