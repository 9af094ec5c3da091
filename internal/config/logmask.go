// SPDX-License-Identifier: MIT

package config

import (
	"reflect"
	"strings"
	"time"
)

// sensitiveKeywords mark field and key names whose values are never shown.
var sensitiveKeywords = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
}

const masked = "***"

// MaskSecrets converts data into maps and slices with sensitive values
// replaced by "***". Durations render as strings.
func MaskSecrets(data any) any {
	if data == nil {
		return nil
	}
	if d, ok := data.(time.Duration); ok {
		return d.String()
	}

	val := reflect.ValueOf(data)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Map:
		result := make(map[string]any, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			result[key] = maskValue(key, iter.Value())
		}
		return result

	case reflect.Slice, reflect.Array:
		result := make([]any, val.Len())
		for i := range result {
			result[i] = MaskSecrets(val.Index(i).Interface())
		}
		return result

	case reflect.Struct:
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			result[field.Name] = maskValue(field.Name, val.Field(i))
		}
		return result

	default:
		return val.Interface()
	}
}

func maskValue(key string, v reflect.Value) any {
	if isSensitiveKey(key) {
		if v.Kind() == reflect.String && v.Len() == 0 {
			return ""
		}
		return masked
	}
	return MaskSecrets(v.Interface())
}

func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}

// MaskKey keeps the last four characters of an API key for log correlation.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return masked
	}
	return masked + key[len(key)-4:]
}
