package model

import (
	"math"
	"time"
)

// Game is a catalogue entry in the store.
//
// Discount is derived from Price and OriginalPrice and is recomputed on
// every write; it is never taken from client input.
type Game struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Image         string     `json:"image"`
	Price         float64    `json:"price"`
	OriginalPrice *float64   `json:"originalPrice"`
	Discount      int        `json:"discount"`
	Rating        *float64   `json:"rating"`
	Platforms     []string   `json:"platforms"`
	Genres        []string   `json:"genres"`
	ReleaseDate   *time.Time `json:"releaseDate"`
	Developer     string     `json:"developer"`
	Publisher     string     `json:"publisher"`
	Tags          []string   `json:"tags"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ApplyDiscount sets Discount to the rounded percentage saved relative to
// OriginalPrice, or 0 when there is no saving.
func (g *Game) ApplyDiscount() {
	g.Discount = DiscountPercent(g.Price, g.OriginalPrice)
}

// DiscountPercent returns round((original-price)/original*100) when
// original is set and greater than price, otherwise 0.
func DiscountPercent(price float64, original *float64) int {
	if original == nil || *original <= price || *original <= 0 {
		return 0
	}
	return int(math.Round((*original - price) / *original * 100))
}
