package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const maxPerPage = 100

// Pagination holds pagination parameters.
type Pagination struct {
	Page    int
	PerPage int
	Offset  int
}

// PageMeta is the pagination block returned next to list data.
type PageMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

// ParsePagination reads page and per_page query params with sane defaults.
func ParsePagination(c *fiber.Ctx, defaultPerPage int) Pagination {
	return NewPagination(
		parseInt(c.Query("page", "1"), 1),
		parseInt(c.Query("per_page", strconv.Itoa(defaultPerPage)), defaultPerPage),
		defaultPerPage,
	)
}

// NewPagination normalizes page and perPage.
func NewPagination(page, perPage, defaultPerPage int) Pagination {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}

	return Pagination{
		Page:    page,
		PerPage: perPage,
		Offset:  (page - 1) * perPage,
	}
}

// Meta builds the response pagination block for total matching rows.
func (p Pagination) Meta(total int64) PageMeta {
	last := 1
	if total > 0 {
		last = int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	}
	return PageMeta{
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		LastPage:    last,
	}
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return fallback
}
