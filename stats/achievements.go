// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stats

type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Unlocked    bool   `json:"unlocked"`
	// Progress and MaxProgress are set for count based achievements.
	Progress    uint64 `json:"progress,omitempty"`
	MaxProgress uint64 `json:"maxProgress,omitempty"`
}

// Achievements evaluates every achievement against s.
func Achievements(s Summary) []Achievement {
	total, decrypted := s.TotalCategories, s.DecryptedCategories
	return []Achievement{
		{
			ID:          "first-category",
			Title:       "First Steps",
			Description: "Add your first reading category",
			Unlocked:    total >= 1,
		},
		{
			ID:          "explorer",
			Title:       "Genre Explorer",
			Description: "Explore 3 different reading categories",
			Unlocked:    total >= 3,
		},
		books("bookworm", "Bookworm", "Record 10 books across your categories", s.TotalBooks, 10),
		{
			ID:          "decryptor",
			Title:       "Master Decryptor",
			Description: "Decrypt all your reading categories",
			Unlocked:    total >= 3 && decrypted == total,
		},
		books("collector", "Data Collector", "Build a collection of 25 books", s.TotalBooks, 25),
		{
			ID:          "privacy-advocate",
			Title:       "Privacy Advocate",
			Description: "Maintain encrypted data privacy",
			Unlocked:    total >= 5 && total > decrypted,
		},
	}
}

func books(id, title, description string, total, goal uint64) Achievement {
	return Achievement{
		ID:          id,
		Title:       title,
		Description: description,
		Unlocked:    total >= goal,
		Progress:    min(total, goal),
		MaxProgress: goal,
	}
}

// Unlocked counts the unlocked achievements.
func Unlocked(achievements []Achievement) int {
	n := 0
	for _, a := range achievements {
		if a.Unlocked {
			n++
		}
	}
	return n
}
