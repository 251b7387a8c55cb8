package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/engine"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/search"
)

// SearchRequest is the JSON body SearchHandler accepts.
type SearchRequest struct {
	Query                    string                 `json:"q"`
	Filter                   map[string]interface{} `json:"filter,omitempty"`
	MatchingStrategy         string                 `json:"matchingStrategy,omitempty"`
	Page                     int                     `json:"page,omitempty"`
	PageSize                 int                     `json:"pageSize,omitempty"`
	RestrictSearchableFields []string                `json:"restrictSearchableFields,omitempty"`
	RetrievableFields        []string                `json:"retrievableFields,omitempty"`
	AttributesToHighlight    []string                `json:"attributesToHighlight,omitempty"`
	AttributesToCrop         []string                `json:"attributesToCrop,omitempty"`
	CropLength               int                     `json:"cropLength,omitempty"`
	CropMarker               string                  `json:"cropMarker,omitempty"`
	HighlightPreTag          string                  `json:"highlightPreTag,omitempty"`
	HighlightPostTag         string                  `json:"highlightPostTag,omitempty"`
	FacetFields              []string                `json:"facetFields,omitempty"`
}

// SearchHandler runs a synchronous search against uid's current index
// state; unlike every other index/document endpoint, search is not a
// durable task.
func SearchHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var body SearchRequest
		if result := ValidateJSONBinding(c, &body); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		// Last is the default: a document matching fewer terms still ranks,
		// just later. Only an explicit "all" hard-requires every term.
		strategy := config.MatchLast
		switch config.TermsMatchingStrategy(body.MatchingStrategy) {
		case config.MatchAll:
			strategy = config.MatchAll
		case config.MatchFrequency:
			strategy = config.MatchFrequency
		}

		req := search.Request{
			Query:                    body.Query,
			Filter:                   ParseFlatFilter(body.Filter),
			MatchingStrategy:         strategy,
			Page:                     body.Page,
			PageSize:                 body.PageSize,
			RestrictSearchableFields: body.RestrictSearchableFields,
			RetrievableFields:        body.RetrievableFields,
			AttributesToHighlight:    body.AttributesToHighlight,
			AttributesToCrop:         body.AttributesToCrop,
			CropLength:               body.CropLength,
			CropMarker:               body.CropMarker,
			HighlightPreTag:          body.HighlightPreTag,
			HighlightPostTag:         body.HighlightPostTag,
			FacetFields:              body.FacetFields,
		}

		resp, err := app.Search(uid, req)
		if err != nil {
			SendSearchError(c, uid, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// FacetSearchRequest is the JSON body FacetSearchHandler accepts.
type FacetSearchRequest struct {
	FacetName  string `json:"facetName" binding:"required"`
	FacetQuery string `json:"facetQuery,omitempty"`
}

// FacetSearchHandler returns value+count pairs for one facet field whose
// values start with the query; like search, it reads the current index
// state synchronously rather than registering a task.
func FacetSearchHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var body FacetSearchRequest
		if result := ValidateJSONBinding(c, &body); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		hits, err := app.FacetSearch(uid, body.FacetName, body.FacetQuery)
		if err != nil {
			if errors.Is(err, domainErrors.ErrFacetSearchDisabled) {
				SendError(c, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error())
				return
			}
			SendSearchError(c, uid, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"facetHits": hits, "facetQuery": body.FacetQuery})
	}
}
