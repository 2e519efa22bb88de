package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// DefaultThemes are written into an empty themes collection. Fixed ids make
// concurrent seeding from several sessions converge on one set.
func DefaultThemes(now time.Time) []store.Theme {
	now = now.UTC()
	themes := []store.Theme{
		{ID: "theme-growth", Name: "Growth", Color: "#2563eb", Description: "Revenue, acquisition and expansion"},
		{ID: "theme-customer", Name: "Customer", Color: "#16a34a", Description: "Customer experience and retention"},
		{ID: "theme-operations", Name: "Operations", Color: "#d97706", Description: "Efficiency, delivery and tooling"},
		{ID: "theme-people", Name: "People", Color: "#9333ea", Description: "Hiring, culture and capability"},
	}
	for i := range themes {
		themes[i].CreatedAt = now
		themes[i].UpdatedAt = now
	}
	return themes
}

// SeedThemes writes every default theme that does not exist yet and returns
// how many it wrote.
func SeedThemes(ctx context.Context, docs store.DocumentStore, now time.Time) (int, error) {
	written := 0
	for _, theme := range DefaultThemes(now) {
		_, err := docs.Get(ctx, store.CollectionThemes, theme.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return written, fmt.Errorf("check theme %s: %w", theme.ID, err)
		}
		doc, err := store.Encode(theme)
		if err != nil {
			return written, err
		}
		if err := docs.Put(ctx, store.CollectionThemes, doc); err != nil {
			return written, fmt.Errorf("seed theme %s: %w", theme.ID, err)
		}
		written++
	}
	return written, nil
}
