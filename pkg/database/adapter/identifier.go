package adapter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier 表名/列名是否合法（可带一级 schema 前缀）
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidateIdentifier 校验标识符，失败返回 VALIDATION_ERROR
func ValidateIdentifier(kind, name string) error {
	if !ValidIdentifier(name) {
		return dberrors.Validation(fmt.Sprintf("invalid %s name %q", kind, name),
			dberrors.FieldError{Field: kind, Message: "must match " + identifierPattern.String()})
	}
	return nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

// ValidateName 校验不带 schema 前缀的单段名称（如保存点），最长 48 个字符
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return dberrors.Validation(fmt.Sprintf("invalid %s name %q", kind, name),
			dberrors.FieldError{Field: kind, Message: "must match " + namePattern.String()})
	}
	return nil
}

// Quote 校验并用引号包裹标识符，schema.table 分段包裹
func Quote(name string, quote byte) (string, error) {
	if err := ValidateIdentifier("identifier", name); err != nil {
		return "", err
	}
	q := string(quote)
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, "."), nil
}

// SortedKeys 返回排序后的键，保证生成的语句稳定
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateColumns 校验所有键都是合法列名
func ValidateColumns[M ~map[string]V, V any](m M) error {
	for _, k := range SortedKeys(m) {
		if err := ValidateIdentifier("column", k); err != nil {
			return err
		}
	}
	return nil
}

// RequireConditions Update/Delete 不允许空条件
func RequireConditions(operation string, conds Conditions) error {
	if len(conds) == 0 {
		return dberrors.Validation(operation+" requires at least one condition",
			dberrors.FieldError{Field: "conditions", Message: "must not be empty"})
	}
	return nil
}

// RequireData 写入数据不能为空
func RequireData(operation string, data Record) error {
	if len(data) == 0 {
		return dberrors.Validation(operation+" requires a non-empty payload",
			dberrors.FieldError{Field: "payload", Message: "must not be empty"})
	}
	return nil
}
