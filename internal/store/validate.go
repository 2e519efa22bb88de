package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var entityValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks an entity's struct tags and its enum fields.
func Validate(e Entity) error {
	if err := entityValidate.Struct(e); err != nil {
		return fmt.Errorf("invalid %s %q: %w", e.EntityCollection(), e.EntityID(), err)
	}
	switch v := e.(type) {
	case Comment:
		if !v.TargetType.Valid() {
			return fmt.Errorf("invalid comment %q: unknown entity type %q", v.ID, v.TargetType)
		}
	case ActivityLog:
		if v.TargetType != "" && !v.TargetType.Valid() {
			return fmt.Errorf("invalid activity %q: unknown entity type %q", v.ID, v.TargetType)
		}
	}
	return nil
}
