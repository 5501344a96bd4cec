package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/ratecache"
)

type RatesHandler struct {
	rates *ratecache.Cache
}

func NewRatesHandler(rates *ratecache.Cache) *RatesHandler {
	return &RatesHandler{rates: rates}
}

// Quote serves a cached exchange rate between two currency codes.
// GET /api/rates?base=&quote=
func (h *RatesHandler) Quote(c *fiber.Ctx) error {
	base := c.Query("base")
	quote := c.Query("quote")
	if base == "" || quote == "" {
		return c.Status(400).JSON(fiber.Map{"error": "base and quote are required"})
	}

	rate, err := h.rates.Rate(c.Context(), base, quote)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"base": base, "quote": quote, "rate": rate})
}
