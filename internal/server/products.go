package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
)

type createProductRequest struct {
	Slug            string   `json:"slug"`
	Kind            string   `json:"kind"`
	Cost            string   `json:"cost"`
	DurationSeconds int64    `json:"duration_seconds,omitempty"`
	TypeFlags       int64    `json:"type_flags,omitempty"`
	FixedPrice      *string  `json:"fixed_price,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	ProviderSlug    string   `json:"provider_slug,omitempty"`
	ExtraGroups     []string `json:"extra_groups,omitempty"`
}

func (s *Server) CreateProduct(c *gin.Context) {
	req, err := bindCreateProduct(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.Create(c.Request.Context(), *req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// SupersedeProduct retires the product currently holding the slug and
// installs the body as its replacement under the same slug.
func (s *Server) SupersedeProduct(c *gin.Context) {
	req, err := bindCreateProduct(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.Supersede(c.Request.Context(), c.Param("slug"), *req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProduct(c *gin.Context) {
	resp, err := s.catalogSvc.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type addToGroupRequest struct {
	GroupSlug string `json:"group_slug"`
}

func (s *Server) AddProductToGroup(c *gin.Context) {
	var req addToGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.GroupSlug) == "" {
		AbortWithError(c, newValidationError("group_slug", "required", "group_slug is required"))
		return
	}

	if err := s.catalogSvc.AddToGroup(c.Request.Context(), c.Param("slug"), req.GroupSlug); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListProductGroups(c *gin.Context) {
	product, err := s.catalogSvc.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	groups, err := s.catalogSvc.GroupsForProduct(c.Request.Context(), product.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups})
}

func (s *Server) ListGroupProducts(c *gin.Context) {
	products, err := s.catalogSvc.ProductsForGroup(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": products})
}

func bindCreateProduct(c *gin.Context) (*catalogdomain.CreateProductRequest, error) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, invalidRequestError()
	}

	cost, err := parseOptionalDecimal(req.Cost)
	if err != nil {
		return nil, newValidationError("cost", "invalid_cost", "invalid cost")
	}

	out := catalogdomain.CreateProductRequest{
		Slug:            strings.TrimSpace(req.Slug),
		Kind:            catalogdomain.Kind(strings.TrimSpace(req.Kind)),
		Cost:            cost,
		DurationSeconds: req.DurationSeconds,
		TypeFlags:       catalogdomain.TypeFlag(req.TypeFlags),
		Currency:        strings.TrimSpace(req.Currency),
		ProviderSlug:    strings.TrimSpace(req.ProviderSlug),
		ExtraGroups:     req.ExtraGroups,
	}
	if req.FixedPrice != nil {
		price, err := parseOptionalDecimal(*req.FixedPrice)
		if err != nil {
			return nil, newValidationError("fixed_price", "invalid_fixed_price", "invalid fixed price")
		}
		out.FixedPrice = &price
	}
	return &out, nil
}
