package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront/pricing-service/internal/catalog"
)

// PromotionDTO is the read-only promotion view exposed over HTTP.
// Codes themselves stay private; the listing only says whether a
// promotion is code-gated.
type PromotionDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	DiscountValue string     `json:"discountValue"`
	Priority      int        `json:"priority"`
	Stackable     bool       `json:"stackable"`
	StartsAt      time.Time  `json:"startsAt"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	Active        bool       `json:"active"`
	RequiresCode  bool       `json:"requiresCode"`
}

// ListPromotionsResponse is the promotion listing payload
type ListPromotionsResponse struct {
	Promotions []PromotionDTO `json:"promotions"`
	AsOf       time.Time      `json:"asOf"`
}

// ListPromotions returns the promotions in the current snapshot,
// in evaluation order
// GET /v1/promotions
func ListPromotions(c *gin.Context) {
	snapshot, err := catalogCache.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "promotion catalog unavailable"})
		return
	}

	activeOnly := c.Query("active") == "true"
	now := time.Now()

	promos := snapshot.Promotions()
	out := make([]PromotionDTO, 0, len(promos))
	for _, p := range promos {
		if activeOnly && !p.ActiveAt(now) {
			continue
		}
		out = append(out, toPromotionDTO(p))
	}

	c.JSON(http.StatusOK, ListPromotionsResponse{
		Promotions: out,
		AsOf:       snapshot.BuiltAt(),
	})
}

// RefreshCatalog forces a catalog reload, bypassing the TTL
// POST /internal/catalog/refresh
func RefreshCatalog(c *gin.Context) {
	ctx := c.Request.Context()
	if err := catalogCache.Refresh(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if comboCache != nil {
		if err := comboCache.Refresh(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func toPromotionDTO(p *catalog.Promotion) PromotionDTO {
	return PromotionDTO{
		ID:            p.ID,
		Name:          p.Name,
		Type:          string(p.Type),
		DiscountValue: p.DiscountValue.String(),
		Priority:      p.Priority,
		Stackable:     p.Stackable,
		StartsAt:      p.StartsAt,
		EndsAt:        p.EndsAt,
		Active:        p.Active,
		RequiresCode:  p.RequiresCode,
	}
}
