// Copyright 2025 The Pagetable Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pterr contains the page-table status codes exported as error
// interface pointers. This allows for fast comparison and return operations
// on the mapping paths: callers compare against the sentinel values directly
// (err == pterr.ErrNoMemory) or through errors.Is.
//
// These are the only runtime failures the mapping operations report. Caller
// bugs (non-canonical addresses, bad level accesses) are contract violations
// and panic instead; see the pagetables package documentation.
package pterr

import (
	"pagetable.dev/pagetable/pkg/errors"
)

// Status codes for the recoverable mapping failures.
const (
	// InvalidArgs covers malformed caller input that is detectable cheaply:
	// unaligned addresses or sizes, non-canonical or wrapping virtual
	// ranges, and address-space overflow.
	InvalidArgs errors.Code = iota + 1

	// NotSupported covers structurally valid but currently-unimplemented
	// requests, such as non-normal cache attributes.
	NotSupported

	// NoMemory reports allocator exhaustion. This is a normal, expected
	// runtime condition, not a programming error.
	NoMemory

	// AlreadyExists reports that the target virtual range (or a covering
	// large-page range) is already mapped. Mappings are never overwritten
	// implicitly.
	AlreadyExists
)

// Sentinel errors returned by the mapping operations.
var (
	ErrInvalidArgs   = errors.New(InvalidArgs, "invalid arguments")
	ErrNotSupported  = errors.New(NotSupported, "not supported")
	ErrNoMemory      = errors.New(NoMemory, "out of memory")
	ErrAlreadyExists = errors.New(AlreadyExists, "already exists")
)

// CodeOf returns the status code carried by err, or 0 if err is nil or not
// a status error.
func CodeOf(err error) errors.Code {
	if e, ok := err.(*errors.Error); ok {
		return e.Code()
	}
	return 0
}
