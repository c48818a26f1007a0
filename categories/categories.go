// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package categories defines the closed vocabulary of reading categories.
//
// The ledger stores arbitrary uint32 ids; only the ids listed here have a
// display name. Unknown ids are rendered as "Category N".
package categories

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCategory = errors.New("invalid category")

// ID identifies a reading category on the ledger.
type ID uint32

const (
	ScienceFiction ID = iota + 1
	Mystery
	Romance
	Fantasy
	Thriller
	NonFiction
	Biography
	History
)

var names = map[ID]string{
	ScienceFiction: "Science Fiction",
	Mystery:        "Mystery",
	Romance:        "Romance",
	Fantasy:        "Fantasy",
	Thriller:       "Thriller",
	NonFiction:     "Non-Fiction",
	Biography:      "Biography",
	History:        "History",
}

func (id ID) String() string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("Category %d", uint32(id))
}

// Known reports whether id belongs to the fixed vocabulary.
func (id ID) Known() bool {
	_, ok := names[id]
	return ok
}

// All returns the known categories in ascending id order.
func All() []ID {
	return []ID{
		ScienceFiction,
		Mystery,
		Romance,
		Fantasy,
		Thriller,
		NonFiction,
		Biography,
		History,
	}
}

// Parse accepts a decimal id or a case-insensitive category name. Decimal
// ids outside the vocabulary are accepted; zero never is.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidCategory)
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if n == 0 {
			return 0, fmt.Errorf("%w: 0", ErrInvalidCategory)
		}
		return ID(n), nil
	}
	want := normalize(s)
	for id, name := range names {
		if normalize(name) == want {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

func normalize(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}
