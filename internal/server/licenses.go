package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type grantLicenseRequest struct {
	ProductSlug     string `json:"product_slug"`
	TargetID        string `json:"target_id"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (s *Server) GrantLicense(c *gin.Context) {
	var req grantLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.DurationSeconds <= 0 {
		AbortWithError(c, newValidationError("duration_seconds", "invalid_duration", "duration must be positive"))
		return
	}

	userID, err := s.lookupUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	product, err := s.catalogSvc.GetBySlug(c.Request.Context(), req.ProductSlug)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	license, err := s.ownershipSvc.GrantLicense(c.Request.Context(), userID, product.ID, req.TargetID, req.DurationSeconds)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": license})
}

func (s *Server) CheckLicense(c *gin.Context) {
	targetID := strings.TrimSpace(c.Query("target_id"))
	if targetID == "" {
		AbortWithError(c, newValidationError("target_id", "invalid_target", "target_id is required"))
		return
	}

	userID, err := s.lookupUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	product, err := s.catalogSvc.GetBySlug(c.Request.Context(), c.Param("productSlug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	licensed, err := s.ownershipSvc.HasLicense(c.Request.Context(), userID, product.ID, targetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"licensed": licensed}})
}
