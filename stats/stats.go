// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stats derives dashboard figures from a store snapshot. Only
// decrypted counts contribute to book totals.
package stats

import (
	"cmp"
	"math"
	"slices"

	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/preference"
)

// Share is one category's part of the decrypted books.
type Share struct {
	ID      uint32  `json:"id"`
	Name    string  `json:"name"`
	Count   uint64  `json:"count"`
	Percent float64 `json:"percent"`
}

type Summary struct {
	TotalCategories     int     `json:"totalCategories"`
	DecryptedCategories int     `json:"decryptedCategories"`
	EncryptedCategories int     `json:"encryptedCategories"`
	TotalBooks          uint64  `json:"totalBooks"`
	DecryptedPercent    int     `json:"decryptedPercent"`
	Level               string  `json:"level"`
	Distribution        []Share `json:"distribution"`
	Favorite            *Share  `json:"favorite,omitempty"`
}

// Summarize computes the dashboard summary of state.
func Summarize(state preference.Snapshot) Summary {
	s := Summary{TotalCategories: len(state.Categories)}
	for _, id := range state.Categories {
		count, ok := state.Decrypted[id]
		if !ok {
			continue
		}
		s.DecryptedCategories++
		s.TotalBooks += count
		s.Distribution = append(s.Distribution, Share{
			ID:    id,
			Name:  categories.ID(id).String(),
			Count: count,
		})
	}
	s.EncryptedCategories = s.TotalCategories - s.DecryptedCategories

	for i := range s.Distribution {
		if s.TotalBooks > 0 {
			s.Distribution[i].Percent = float64(s.Distribution[i].Count) * 100 / float64(s.TotalBooks)
		}
	}
	slices.SortFunc(s.Distribution, func(a, b Share) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(s.Distribution) > 0 && s.Distribution[0].Count > 0 {
		favorite := s.Distribution[0]
		s.Favorite = &favorite
	}

	if s.TotalCategories > 0 {
		s.DecryptedPercent = int(math.Round(float64(s.DecryptedCategories) * 100 / float64(s.TotalCategories)))
	}
	s.Level = level(s.DecryptedPercent)
	return s
}

func level(percent int) string {
	switch {
	case percent >= 100:
		return "Master Decrypter"
	case percent >= 80:
		return "Privacy Expert"
	case percent >= 60:
		return "Data Explorer"
	case percent >= 40:
		return "Curious Reader"
	default:
		return "Privacy Learner"
	}
}
