// Package common provides utility functions for key/value reference replacement.
//
// The {key-name} syntax allows configuration values to reference keys stored
// in the key/value store, so secrets such as proxy credentials and API keys
// can live outside colligo.toml. At runtime the references are replaced with
// values from the store. Replacement is case-sensitive; missing keys are
// logged as warnings and left in place.
package common

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/ternarybob/arbor"
)

// keyRefPattern matches {key-name} references: alphanumerics, hyphens,
// underscores.
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// ReplaceKeyReferences replaces all {key-name} references in the input
// string with values from the KV map. Unknown keys are left unchanged
// and logged.
func ReplaceKeyReferences(input string, kvMap map[string]string, logger arbor.ILogger) string {
	if input == "" {
		return input
	}

	return keyRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		keyName := match[1 : len(match)-1]
		if value, exists := kvMap[keyName]; exists {
			return value
		}
		if logger != nil {
			logger.Warn().
				Str("reference", match).
				Msg("Unresolved key reference - key not found in KV store")
		}
		return match
	})
}

// ReplaceInStruct walks a struct pointer with reflection and replaces
// {key-name} references in every settable string field, including
// nested structs, string slices, and map[string]string fields.
func ReplaceInStruct(v interface{}, kvMap map[string]string, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("ReplaceInStruct requires a pointer, got %T", v)
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("ReplaceInStruct requires a struct pointer, got pointer to %v", val.Kind())
	}
	return replaceInStructValue(val, kvMap, logger)
}

func replaceInStructValue(val reflect.Value, kvMap map[string]string, logger arbor.ILogger) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			if newValue := ReplaceKeyReferences(field.String(), kvMap, logger); newValue != field.String() {
				field.SetString(newValue)
			}

		case reflect.Struct:
			if err := replaceInStructValue(field, kvMap, logger); err != nil {
				return fmt.Errorf("failed to replace in nested struct field '%s': %w", fieldType.Name, err)
			}

		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				if err := replaceInStructValue(field.Elem(), kvMap, logger); err != nil {
					return fmt.Errorf("failed to replace in pointer field '%s': %w", fieldType.Name, err)
				}
			}

		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				for j := 0; j < field.Len(); j++ {
					elem := field.Index(j)
					if newValue := ReplaceKeyReferences(elem.String(), kvMap, logger); newValue != elem.String() {
						elem.SetString(newValue)
					}
				}
			}

		case reflect.Map:
			if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
				mapVal := field.Interface().(map[string]string)
				for key, value := range mapVal {
					if newValue := ReplaceKeyReferences(value, kvMap, logger); newValue != value {
						mapVal[key] = newValue
					}
				}
			}
		}
	}

	return nil
}
