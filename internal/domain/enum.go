package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// EnumType is a named field-level policy for a set of admissible values.
type EnumType struct {
	ID            int64
	Name          string
	Description   string
	IsMultiSelect bool
	MaxSelections *int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// EnumValue is one admissible choice under an EnumType.
type EnumValue struct {
	ID           int64
	EnumTypeID   int64
	Value        string
	Label        string
	DisplayOrder int
	IsActive     bool
	Metadata     json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// EnumInfo is the summary used for field validation.
type EnumInfo struct {
	ValidValues   []string `json:"valid_values"`
	IsMultiSelect bool     `json:"is_multi_select"`
	MaxSelections *int     `json:"max_selections"`
}

// NewEnumInfo derives the validation summary from a type and its active values.
func NewEnumInfo(t *EnumType, values []*EnumValue) *EnumInfo {
	valid := make([]string, 0, len(values))
	for _, v := range values {
		if v.IsActive {
			valid = append(valid, v.Value)
		}
	}
	slices.Sort(valid)
	return &EnumInfo{
		ValidValues:   valid,
		IsMultiSelect: t.IsMultiSelect,
		MaxSelections: t.MaxSelections,
	}
}

// Contains reports whether value is admissible.
func (i *EnumInfo) Contains(value string) bool {
	_, found := slices.BinarySearch(i.ValidValues, value)
	return found
}

// Check applies the value and cardinality policy to a submitted selection.
func (i *EnumInfo) Check(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("at least one value is required")
	}
	if !i.IsMultiSelect && len(values) > 1 {
		return fmt.Errorf("only one value may be selected")
	}
	if i.MaxSelections != nil && len(values) > *i.MaxSelections {
		return fmt.Errorf("at most %d values may be selected", *i.MaxSelections)
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if !i.Contains(v) {
			return fmt.Errorf("invalid value %q, must be one of %v", v, i.ValidValues)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("value %q selected more than once", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// EnumTypeView is the serialisable form of an EnumType inside EnumFullInfo.
type EnumTypeView struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	IsMultiSelect bool       `json:"is_multi_select"`
	MaxSelections *int       `json:"max_selections"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// EnumValueView is the serialisable form of an EnumValue inside EnumFullInfo.
type EnumValueView struct {
	ID           int64           `json:"id"`
	Value        string          `json:"value"`
	Label        string          `json:"label"`
	DisplayOrder int             `json:"display_order"`
	IsActive     bool            `json:"is_active"`
	MetaInfo     json.RawMessage `json:"meta_info,omitempty"`
}

// EnumFullInfo carries the type plus its values ordered for display.
type EnumFullInfo struct {
	EnumType EnumTypeView    `json:"enum_type"`
	Values   []EnumValueView `json:"values"`
}

// NewEnumFullInfo builds the display view. values must already be ordered by display_order.
func NewEnumFullInfo(t *EnumType, values []*EnumValue) *EnumFullInfo {
	full := &EnumFullInfo{
		EnumType: EnumTypeView{
			ID:            t.ID,
			Name:          t.Name,
			Description:   t.Description,
			IsMultiSelect: t.IsMultiSelect,
			MaxSelections: t.MaxSelections,
			IsActive:      t.IsActive,
			CreatedAt:     t.CreatedAt,
			UpdatedAt:     t.UpdatedAt,
		},
		Values: make([]EnumValueView, 0, len(values)),
	}
	for _, v := range values {
		full.Values = append(full.Values, EnumValueView{
			ID:           v.ID,
			Value:        v.Value,
			Label:        v.Label,
			DisplayOrder: v.DisplayOrder,
			IsActive:     v.IsActive,
			MetaInfo:     v.Metadata,
		})
	}
	return full
}

// EnumAction is the kind of admin write announced on the invalidation channel.
type EnumAction string

const (
	EnumInsert EnumAction = "insert"
	EnumUpdate EnumAction = "update"
	EnumDelete EnumAction = "delete"
)

// Refreshes reports whether the cache should be repopulated after invalidation.
func (a EnumAction) Refreshes() bool {
	return a == EnumInsert || a == EnumUpdate
}

// EnumChange is the JSON body published on the invalidation channel.
type EnumChange struct {
	EnumName string     `json:"enum_name"`
	Action   EnumAction `json:"action"`
}
