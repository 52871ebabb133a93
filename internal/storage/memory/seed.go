package memory

import (
	"context"
	"fmt"

	"library/internal/models"
)

// Seed loads the sample catalog and patrons. It is only ever called by the
// application bootstrap and tests.
func Seed(ctx context.Context, db *DB) error {
	items := []models.MediaItem{
		{ID: "978-0132350884", Type: models.MediaBook, Title: "Clean Code", Creator: "Robert C. Martin", Available: true},
		{ID: "978-0201633610", Type: models.MediaBook, Title: "Design Patterns", Creator: "Erich Gamma", Available: true},
		{ID: "978-0134685991", Type: models.MediaBook, Title: "Effective Java", Creator: "Joshua Bloch", Available: true},
		{ID: "978-0262033848", Type: models.MediaBook, Title: "Introduction to Algorithms", Creator: "Thomas H. Cormen", Available: true},
		{ID: "CD001", Type: models.MediaCD, Title: "Abbey Road", Creator: "The Beatles", Available: true},
		{ID: "CD002", Type: models.MediaCD, Title: "Kind of Blue", Creator: "Miles Davis", Available: true},
		{ID: "CD003", Type: models.MediaCD, Title: "Rumours", Creator: "Fleetwood Mac", Available: true},
	}
	for _, item := range items {
		if err := db.AddItem(ctx, item); err != nil {
			return fmt.Errorf("failed to seed media %s: %w", item.ID, err)
		}
	}

	patrons := []models.Patron{
		{ID: "U001", Name: "Alice Johnson", Email: "alice@example.com", Active: true, CanBorrow: true},
		{ID: "U002", Name: "Bob Smith", Email: "bob@example.com", Active: true, CanBorrow: true},
		{ID: "U003", Name: "Carol White", Email: "carol@example.com", Active: false, CanBorrow: true},
	}
	for _, p := range patrons {
		if err := db.SavePatron(ctx, p); err != nil {
			return fmt.Errorf("failed to seed patron %s: %w", p.ID, err)
		}
	}

	return nil
}
