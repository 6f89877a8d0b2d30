package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hray3182/LifeMoments/internal/ai"
	"go.uber.org/zap"
)

const suggestedWishes = 3

type WishInput struct {
	EventType string `json:"event_type" binding:"required,oneof=birthday anniversary bill custom"`
	Relation  string `json:"relation" binding:"max=100"`
	Title     string `json:"title" binding:"required,max=100"`
}

func (s *Server) suggestWishes(c *gin.Context) {
	var input WishInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}
	if s.deps.Wishes == nil {
		respondError(c, http.StatusServiceUnavailable, "Wish generation is not configured")
		return
	}

	wishes, err := s.deps.Wishes.SuggestWishes(c.Request.Context(), ai.WishRequest{
		EventType: input.EventType,
		Relation:  strings.TrimSpace(input.Relation),
		Title:     strings.TrimSpace(input.Title),
	}, suggestedWishes)
	if err != nil {
		s.logger.Error("failed to generate wishes", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to generate wishes")
		return
	}

	c.JSON(http.StatusOK, gin.H{"wishes": wishes})
}
