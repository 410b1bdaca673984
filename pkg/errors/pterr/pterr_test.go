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

package pterr

import (
	stderrors "errors"
	"fmt"
	"testing"

	"pagetable.dev/pagetable/pkg/errors"
)

func TestCodeOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want errors.Code
	}{
		{nil, 0},
		{ErrInvalidArgs, InvalidArgs},
		{ErrNotSupported, NotSupported},
		{ErrNoMemory, NoMemory},
		{ErrAlreadyExists, AlreadyExists},
		{fmt.Errorf("plain error"), 0},
	} {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestSentinelsDistinct(t *testing.T) {
	sentinels := []*errors.Error{ErrInvalidArgs, ErrNotSupported, ErrNoMemory, ErrAlreadyExists}
	seen := make(map[errors.Code]string)
	for _, s := range sentinels {
		if prev, ok := seen[s.Code()]; ok {
			t.Errorf("code %d shared by %q and %q", s.Code(), prev, s.Error())
		}
		seen[s.Code()] = s.Error()
	}
}

func TestErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("mapping 0x1000: %w", ErrAlreadyExists)
	if !stderrors.Is(wrapped, ErrAlreadyExists) {
		t.Errorf("errors.Is(%v, ErrAlreadyExists) = false, want true", wrapped)
	}
	if stderrors.Is(wrapped, ErrNoMemory) {
		t.Errorf("errors.Is(%v, ErrNoMemory) = true, want false", wrapped)
	}
}
