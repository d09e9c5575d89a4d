package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a field
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
)

// FieldRule defines validation rules for a column
type FieldRule struct {
	Column      string
	Type        FieldType
	Required    bool
	Recommended bool // blank values produce a warning instead of an error
	MaxLength   int
	MinValue    *decimal.Decimal
	MaxValue    *decimal.Decimal
	Pattern     *regexp.Regexp
	PatternDesc string
	Unique      bool
	CustomFunc  func(value string) error
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field starts a rule for column
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{rule: FieldRule{Column: column, Type: TypeString}}
}

// Required marks the field as required
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// Recommended warns when the field is blank
func (b *FieldRuleBuilder) Recommended() *FieldRuleBuilder {
	b.rule.Recommended = true
	return b
}

// Int sets the field type to integer
func (b *FieldRuleBuilder) Int() *FieldRuleBuilder {
	b.rule.Type = TypeInt
	return b
}

// Decimal sets the field type to decimal
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder {
	b.rule.Type = TypeDecimal
	return b
}

// MaxLength caps the length in characters
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// MinValue sets the minimum numeric value
func (b *FieldRuleBuilder) MinValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

// MaxValue sets the maximum numeric value
func (b *FieldRuleBuilder) MaxValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MaxValue = &v
	return b
}

// Pattern sets a regex pattern for validation
func (b *FieldRuleBuilder) Pattern(pattern, description string) *FieldRuleBuilder {
	b.rule.Pattern = regexp.MustCompile(pattern)
	b.rule.PatternDesc = description
	return b
}

// Unique rejects a value already seen earlier in the same file
func (b *FieldRuleBuilder) Unique() *FieldRuleBuilder {
	b.rule.Unique = true
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// FieldValidator checks rows against a fixed rule set. It remembers values of
// Unique columns across rows, so use one validator per file.
type FieldValidator struct {
	rules       []FieldRule
	uniqueCheck map[string]map[string]int // column -> value -> first row number
}

// NewFieldValidator creates a validator. Rules run in the order given.
func NewFieldValidator(rules ...FieldRule) *FieldValidator {
	return &FieldValidator{
		rules:       rules,
		uniqueCheck: make(map[string]map[string]int),
	}
}

// RequiredColumns lists the columns whose header must be present
func (v *FieldValidator) RequiredColumns() []string {
	var cols []string
	for _, r := range v.rules {
		if r.Required {
			cols = append(cols, r.Column)
		}
	}
	return cols
}

// ValidateRow checks every rule against row
func (v *FieldValidator) ValidateRow(row *Row) RowResult {
	var res RowResult
	for _, rule := range v.rules {
		value := row.Get(rule.Column)

		if value == "" {
			switch {
			case rule.Required:
				res.Errors = append(res.Errors, RowError{Row: row.LineNumber, Column: rule.Column,
					Code: ErrCodeImportRequiredField, Message: "is required"})
			case rule.Recommended:
				res.Warnings = append(res.Warnings, RowError{Row: row.LineNumber, Column: rule.Column,
					Code: ErrCodeImportMissingOptional, Message: "is empty"})
			}
			continue
		}

		if err := v.checkValue(rule, value, row.LineNumber); err != nil {
			res.Errors = append(res.Errors, *err)
		}
	}
	return res
}

func (v *FieldValidator) checkValue(rule FieldRule, value string, line int) *RowError {
	fail := func(code, msg string) *RowError {
		return &RowError{Row: line, Column: rule.Column, Code: code, Message: msg, Value: value}
	}

	switch rule.Type {
	case TypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fail(ErrCodeImportInvalidType, "expected an integer")
		}
	case TypeDecimal:
		if _, err := decimal.NewFromString(value); err != nil {
			return fail(ErrCodeImportInvalidType, "expected a decimal number")
		}
	}

	if rule.MaxLength > 0 && utf8.RuneCountInString(value) > rule.MaxLength {
		return fail(ErrCodeImportInvalidLength, fmt.Sprintf("length must be at most %d", rule.MaxLength))
	}

	if rule.Type == TypeInt || rule.Type == TypeDecimal {
		d, _ := decimal.NewFromString(value)
		if rule.MinValue != nil && d.LessThan(*rule.MinValue) {
			return fail(ErrCodeImportInvalidRange, "must be at least "+rule.MinValue.String())
		}
		if rule.MaxValue != nil && d.GreaterThan(*rule.MaxValue) {
			return fail(ErrCodeImportInvalidRange, "must be at most "+rule.MaxValue.String())
		}
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		return fail(ErrCodeImportPatternMismatch, "must match "+rule.PatternDesc)
	}

	if rule.CustomFunc != nil {
		if err := rule.CustomFunc(value); err != nil {
			return fail(ErrCodeImportValidation, err.Error())
		}
	}

	if rule.Unique {
		seen := v.uniqueCheck[rule.Column]
		if seen == nil {
			seen = make(map[string]int)
			v.uniqueCheck[rule.Column] = seen
		}
		if first, ok := seen[value]; ok {
			return fail(ErrCodeImportDuplicateInFile, fmt.Sprintf("duplicate value '%s' (first seen in row %d)", value, first))
		}
		seen[value] = line
	}
	return nil
}

// Reset forgets the values seen by Unique rules
func (v *FieldValidator) Reset() {
	v.uniqueCheck = make(map[string]map[string]int)
}
