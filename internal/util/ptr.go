package util

import "time"

func StringPtr(v string) *string { return &v }

func FloatPtr(v float64) *float64 { return &v }

func TimePtr(v time.Time) *time.Time { return &v }

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
