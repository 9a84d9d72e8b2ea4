package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"github.com/smallbiznis/emitra/pkg/db/pagination"
)

func (s *Server) CreateSite(c *gin.Context) {
	var req sitedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	site, err := s.siteSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, site, Meta{})
}

func (s *Server) ListSites(c *gin.Context) {
	sites, err := s.siteSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, sites, Meta{})
}

func (s *Server) GetSite(c *gin.Context) {
	site, err := s.siteSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, site, Meta{})
}

func (s *Server) ListSiteMeasurements(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	page, err := s.siteSvc.ListMeasurements(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, page, Meta{})
}

func (s *Server) SiteMetrics(c *gin.Context) {
	metrics, err := s.siteSvc.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, metrics, Meta{})
}
