package registry

import "errors"

var (
	// ErrAlreadyRegistered is returned when a component alias or prefab
	// name is already taken.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotRegistered is returned when an alias has no catalogue entry.
	ErrNotRegistered = errors.New("component not registered")
	// ErrPrefabNotFound is returned when a prefab name resolves to nothing.
	ErrPrefabNotFound = errors.New("prefab not found")
	// ErrUnknownAlias is returned when overrides or a prefab declaration
	// reference an alias outside the catalogue.
	ErrUnknownAlias = errors.New("unknown component alias")
)
