package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"society-ledger-backend/internal/models"
	"society-ledger-backend/internal/repository"
	"society-ledger-backend/internal/services/resolve"
)

type UnitHandler struct {
	resolver    *resolve.Resolver
	mappingRepo *repository.UnitMappingRepository
}

func NewUnitHandler(resolver *resolve.Resolver, mappingRepo *repository.UnitMappingRepository) *UnitHandler {
	return &UnitHandler{resolver: resolver, mappingRepo: mappingRepo}
}

// Find runs the resolver directly against a payer name.
func (h *UnitHandler) Find(c *gin.Context) {
	payerName := c.Param("payerName")
	if payerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payer name required"})
		return
	}

	match, err := h.resolver.Resolve(payerName, c.Query("vpa"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "strategy": match.Strategy})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mapping":    match.Mapping,
		"confidence": match.Confidence,
		"strategy":   match.Strategy,
	})
}

// Train upserts a unit's alias set. This is the only path that grows
// mappings; matcher output never feeds back automatically.
func (h *UnitHandler) Train(c *gin.Context) {
	var payload struct {
		UnitID       string   `json:"unit_id"`
		UnitType     string   `json:"unit_type"`
		OwnerNames   []string `json:"owner_names"`
		VPAAliases   []string `json:"vpa_aliases"`
		Relationship string   `json:"relationship"`
		Status       string   `json:"status"`
		TrainedBy    string   `json:"trained_by"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.UnitID == "" || len(payload.OwnerNames) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_id and owner_names required"})
		return
	}

	m := &models.UnitMapping{
		UnitID:       payload.UnitID,
		UnitType:     payload.UnitType,
		OwnerNames:   payload.OwnerNames,
		VPAAliases:   payload.VPAAliases,
		Relationship: payload.Relationship,
		Status:       payload.Status,
		TrainedBy:    payload.TrainedBy,
	}
	if err := h.mappingRepo.Upsert(m); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mapping trained", "mapping": m})
}

// List returns all active mappings.
func (h *UnitHandler) List(c *gin.Context) {
	mappings, err := h.mappingRepo.ActiveMappings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": mappings, "count": len(mappings)})
}
