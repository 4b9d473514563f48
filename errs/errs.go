// Package errs defines the error kinds shared by the library, the storage
// drivers and the plugin dispatcher.
//
// Every kind is a struct carrying its context plus a sentinel, so callers can
// use errors.As for details or errors.Is for a quick classification:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below.
var (
	ErrNotFound             = errors.New("not found")
	ErrRelationshipNotFound = errors.New("relationship not found")
	ErrResource             = errors.New("resource error")
	ErrLibrary              = errors.New("library error")
	ErrPluginLoading        = errors.New("plugin loading error")
	ErrPluginRuntime        = errors.New("plugin runtime error")
	ErrPluginConfig         = errors.New("plugin config error")
)

// NotFoundError reports an absent track, collection, blob, plugin data row,
// embedding or user.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError. id is formatted with %v.
func NotFound(entity string, id interface{}) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprintf("%v", id)}
}

// RelationshipNotFoundError reports a missing edge between two entities.
type RelationshipNotFoundError struct {
	SourceID string
	TargetID string
}

func (e *RelationshipNotFoundError) Error() string {
	return fmt.Sprintf("relationship between %s and %s not found", e.SourceID, e.TargetID)
}

func (e *RelationshipNotFoundError) Is(target error) bool { return target == ErrRelationshipNotFound }

// RelationshipNotFound builds a RelationshipNotFoundError.
func RelationshipNotFound(source, target interface{}) error {
	return &RelationshipNotFoundError{SourceID: fmt.Sprintf("%v", source), TargetID: fmt.Sprintf("%v", target)}
}

// ResourceError reports a missing or unsupported source file.
type ResourceError struct {
	Path   string
	Reason string
}

func (e *ResourceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("resource %s could not be used", e.Path)
	}
	return fmt.Sprintf("resource %s: %s", e.Path, e.Reason)
}

func (e *ResourceError) Is(target error) bool { return target == ErrResource }

// Resource builds a ResourceError.
func Resource(path, reason string) error {
	return &ResourceError{Path: path, Reason: reason}
}

// LibraryError wraps a store-level failure with the operation it happened in.
type LibraryError struct {
	Op  string
	Err error
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("library %s: %v", e.Op, e.Err)
}

func (e *LibraryError) Unwrap() error { return e.Err }

func (e *LibraryError) Is(target error) bool { return target == ErrLibrary }

// Library wraps err into a LibraryError unless it already carries one of the
// more specific kinds of this package, which are returned unchanged.
func Library(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	return &LibraryError{Op: op, Err: err}
}

// PluginLoadingError reports a plugin that is not registered or cannot be used.
type PluginLoadingError struct {
	Plugin string
	Reason string
}

func (e *PluginLoadingError) Error() string {
	return fmt.Sprintf("plugin %s could not be loaded: %s", e.Plugin, e.Reason)
}

func (e *PluginLoadingError) Is(target error) bool { return target == ErrPluginLoading }

// PluginLoading builds a PluginLoadingError.
func PluginLoading(plugin, reason string) error {
	return &PluginLoadingError{Plugin: plugin, Reason: reason}
}

// PluginRuntimeError wraps anything that went wrong inside a plugin function.
type PluginRuntimeError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginRuntimeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("error running plugin %s: %v", e.Plugin, e.Err)
	}
	return fmt.Sprintf("error running plugin function %s.%s: %v", e.Plugin, e.Op, e.Err)
}

func (e *PluginRuntimeError) Unwrap() error { return e.Err }

func (e *PluginRuntimeError) Is(target error) bool { return target == ErrPluginRuntime }

// PluginRuntime builds a PluginRuntimeError.
func PluginRuntime(plugin, op string, err error) error {
	return &PluginRuntimeError{Plugin: plugin, Op: op, Err: err}
}

// PluginConfigError reports a plugin that lacks a required setting.
type PluginConfigError struct {
	Plugin string
	Key    string
}

func (e *PluginConfigError) Error() string {
	return fmt.Sprintf("plugin %s is missing required configuration %q", e.Plugin, e.Key)
}

func (e *PluginConfigError) Is(target error) bool { return target == ErrPluginConfig }

// PluginConfig builds a PluginConfigError.
func PluginConfig(plugin, key string) error {
	return &PluginConfigError{Plugin: plugin, Key: key}
}

// IsKnown reports whether err is, or wraps, one of the kinds of this package.
func IsKnown(err error) bool {
	for _, s := range []error{
		ErrNotFound, ErrRelationshipNotFound, ErrResource, ErrLibrary,
		ErrPluginLoading, ErrPluginRuntime, ErrPluginConfig,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
