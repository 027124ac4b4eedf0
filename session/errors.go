// errors.go - Session error taxonomy.
// Copyright (C) 2025  The ComLock Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package session

import "errors"

var (
	// ErrSessionGone is returned for any operation on a wiped or
	// deleted session.
	ErrSessionGone = errors.New("session: gone")

	// ErrNoSuchContact is returned when the store has no session for a
	// contact.
	ErrNoSuchContact = errors.New("session: no such contact")

	// ErrDuplicateContact is returned when adding a session for a
	// contact that already has one.
	ErrDuplicateContact = errors.New("session: duplicate contact")
)
