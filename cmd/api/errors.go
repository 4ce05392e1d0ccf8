package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"offerflow/offer"
)

type errorResponse struct {
	Error         string   `json:"error"`
	Reason        string   `json:"reason,omitempty"`
	MinAmount     float64  `json:"minAmount,omitempty"`
	AskingPrice   float64  `json:"askingPrice,omitempty"`
	RejectedFloor *float64 `json:"rejectedFloor,omitempty"`
	Retryable     bool     `json:"retryable,omitempty"`
}

// writeError maps service errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		rejection *offer.Rejection
		conflict  *offer.ConflictError
	)
	switch {
	case errors.As(err, &rejection):
		status := http.StatusUnprocessableEntity
		if rejection.Reason == offer.ReasonNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, errorResponse{
			Error:         rejection.Message,
			Reason:        string(rejection.Reason),
			MinAmount:     rejection.MinAmount,
			AskingPrice:   rejection.AskingPrice,
			RejectedFloor: rejection.RejectedFloor,
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, errorResponse{
			Error:     "the offer changed while your request was processed; reload and try again",
			Reason:    "Conflict",
			Retryable: conflict.Retryable(),
		})
	case errors.Is(err, offer.ErrInvalidState):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Reason: "InvalidState"})
	case errors.Is(err, offer.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, offer.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, offer.ErrNotFound), errors.Is(err, offer.ErrPropertyNotFound), errors.Is(err, offer.ErrNoDocument):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, offer.ErrUploadFailed):
		s.log().Error("document upload failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: "the document could not be stored; please try again"})
	default:
		s.log().Error("request failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
