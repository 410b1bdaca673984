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

package bits

// MaskOf returns a uint64 with only bit i set.
func MaskOf64(i int) uint64 {
	return uint64(1) << uint64(i)
}

// LowMask64 returns a mask covering the n least significant bits.
func LowMask64(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return MaskOf64(n) - 1
}

// SignExtend64 treats bit width-1 of val as a sign bit and propagates it
// through bits [63:width].
func SignExtend64(val uint64, width int) uint64 {
	if width <= 0 || width >= 64 {
		return val
	}
	if val&MaskOf64(width-1) != 0 {
		return val | ^LowMask64(width)
	}
	return val & LowMask64(width)
}
