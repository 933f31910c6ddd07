package util

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectKey builds a storage key under prefix with a unique component.
func ObjectKey(prefix, name, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("%s/%s_%s_%s%s", prefix, name, Now().Format("20060102150405"), uuid.NewString()[:8], ext)
}
