package config

import (
	"errors"
	"strings"

	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	ErrLevels        = errors.New(f("paging levels must be 4 or 5"))
	ErrRing          = errors.New(f("unknown ring"))
	ErrHypervisor    = errors.New(f("hypervisor ring not enabled"))
	ErrTlbEntries    = errors.New(f("tlb entries must not be negative"))
	ErrReplacement   = errors.New(f("unknown tlb replacement policy"))
	ErrMemoryType    = errors.New(f("unknown memory type"))
	ErrMemorySize    = errors.New(f("memory size must be a non-zero multiple of the page size"))
	ErrMemoryAlign   = errors.New(f("memory start must be page aligned"))
	ErrMemoryPath    = errors.New(f("rom requires an image path"))
	ErrMemoryOverlap = errors.New(f("memory overlaps another range"))
	ErrMemoryNone    = errors.New(f("no memory configured"))
	ErrDeviceType    = errors.New(f("unknown device type"))
	ErrDeviceOverlap = errors.New(f("device ports overlap another device"))
	ErrDeviceIrq     = errors.New(f("device irq must not be an exception vector"))
)

// ErrConfig is a rejected configuration field.
type ErrConfig struct {
	Field string
	Err   error
}

func (err *ErrConfig) Error() string {
	return f("%v: %v", err.Field, err.Err)
}

func (err *ErrConfig) Unwrap() error {
	return err.Err
}

// ErrUnknownKey lists TOML keys that do not map to any field.
type ErrUnknownKey []string

func (err ErrUnknownKey) Error() string {
	return f("unknown keys: %v", strings.Join(err, ", "))
}
