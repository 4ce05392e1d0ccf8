package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"offerflow/document"
	"offerflow/offer"
	"offerflow/verification"
)

type submitOfferRequest struct {
	Amount  float64 `json:"amount"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Message string  `json:"message"`
}

type decisionRequest struct {
	Note string `json:"note"`
}

type documentLinkResponse struct {
	URL           string              `json:"url"`
	ExpiresAt     string              `json:"expiresAt"`
	Fields        verification.Fields `json:"fields"`
	OCRConfidence *float64            `json:"ocrConfidence,omitempty"`
	Verified      bool                `json:"verified"`
}

func (s *Server) handleSubmitOffer(c *gin.Context) {
	actor, _ := principal(c)

	var req submitOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	o, err := s.offers.Submit(c.Request.Context(), offer.SubmitParams{
		PropertyID: c.Param("id"),
		Buyer:      actor,
		Amount:     req.Amount,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Message:    req.Message,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) handleGetOffer(c *gin.Context) {
	actor, _ := principal(c)

	o, err := s.offers.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleListOffers(c *gin.Context) {
	actor, _ := principal(c)

	params := offer.ListParams{Actor: actor, PropertyID: c.Query("propertyId")}
	if raw := c.Query("status"); raw != "" {
		status, err := offer.ParseStatus(raw)
		if err != nil {
			s.writeError(c, err)
			return
		}
		params.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		params.Limit = limit
	}

	offers, err := s.offers.List(c.Request.Context(), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

// handleUploadDocument accepts the image as multipart field "document" or as
// the raw request body.
func (s *Server) handleUploadDocument(c *gin.Context) {
	actor, _ := principal(c)

	data, err := readDocument(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.offers.UploadDocument(c.Request.Context(), offer.UploadParams{
		OfferID: c.Param("id"),
		Actor:   actor,
		Data:    data,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func readDocument(c *gin.Context) ([]byte, error) {
	var src io.Reader = c.Request.Body
	if fh, err := c.FormFile("document"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("could not read uploaded file")
		}
		defer f.Close()
		src = f
	} else if !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, http.ErrMissingFile) {
		return nil, fmt.Errorf("malformed multipart body")
	}

	data, err := io.ReadAll(io.LimitReader(src, document.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("could not read document")
	}
	if len(data) > document.MaxSize {
		return nil, fmt.Errorf("document exceeds %d bytes", document.MaxSize)
	}
	return data, nil
}

func (s *Server) handleReadDocument(c *gin.Context) {
	actor, _ := principal(c)

	link, err := s.offers.ReadDocument(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, documentLinkResponse{
		URL:           link.URL,
		ExpiresAt:     link.ExpiresAt.UTC().Format(time.RFC3339),
		Fields:        link.Fields,
		OCRConfidence: link.OCRConfidence,
		Verified:      link.Verified,
	})
}

// handleDocumentReference serves the documentUrl stored on an offer by
// redirecting an authorised reader to a fresh signed link.
func (s *Server) handleDocumentReference(c *gin.Context) {
	actor, _ := principal(c)
	ctx := c.Request.Context()

	o, err := s.offers.Get(ctx, c.Param("offerId"), actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if o.PropertyID != c.Param("id") {
		s.writeError(c, offer.ErrNotFound)
		return
	}

	link, err := s.offers.ReadDocument(ctx, o.ID, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, link.URL)
}

type decisionFunc func(ctx context.Context, params offer.DecisionParams) (offer.Offer, error)

func (s *Server) decision(fn decisionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := principal(c)

		var req decisionRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		o, err := fn(c.Request.Context(), offer.DecisionParams{
			OfferID: c.Param("id"),
			Actor:   actor,
			Note:    req.Note,
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// handleDocumentContent serves document bytes to holders of a valid signed link.
func (s *Server) handleDocumentContent(c *gin.Context) {
	path, err := s.links.Verify(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusForbidden, errorResponse{Error: "link is invalid or has expired"})
		return
	}

	blob, err := s.documents.Get(c.Request.Context(), path)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "document not found"})
			return
		}
		s.log().Error("read document", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
