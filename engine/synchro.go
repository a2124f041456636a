// go-gemm8
// Copyright (c) 2025 The Gridbox Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-gemm8.
//
// go-gemm8 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-gemm8 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-gemm8; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package engine

// synchro carries one raw link input through a two-deep sample history so a
// transition is only acted on once it has been stable for two ticks. All
// three link inputs pass through the same depth, which keeps their relative
// timing intact: every input reaches the framer exactly two ticks late.
type synchro struct {
	// pipe[0] holds the newest raw sample, pipe[1] the one before it.
	// The synchronized level handed to the framer is pipe[1].
	pipe [2]bool

	// prev is the synchronized level from the previous tick, kept so edges
	// can be detected by comparing the two most recent synchronized samples.
	prev bool
}

// step feeds one raw sample into the history and returns the synchronized
// level along with rising/falling edge flags for this tick.
func (s *synchro) step(raw bool) (level, rising, falling bool) {
	level = s.pipe[1]
	rising = level && !s.prev
	falling = !level && s.prev

	s.prev = level
	s.pipe[1] = s.pipe[0]
	s.pipe[0] = raw

	return level, rising, falling
}
