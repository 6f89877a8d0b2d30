package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/hray3182/LifeMoments/internal/repository"
	"go.uber.org/zap"
)

type RecipientInput struct {
	Email string `json:"email" binding:"required,email,max=254"`
}

func (s *Server) listRecipients(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}

	recipients, err := s.deps.Recipients.ListByUserID(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("failed to list recipients", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to retrieve recipients")
		return
	}
	if recipients == nil {
		recipients = []*models.NotificationRecipient{}
	}
	c.JSON(http.StatusOK, recipients)
}

func (s *Server) addRecipient(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var input RecipientInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	recipient, err := s.deps.Recipients.Add(c.Request.Context(), userID, input.Email)
	switch {
	case errors.Is(err, repository.ErrRecipientExists):
		respondError(c, http.StatusConflict, "This email is already added")
		return
	case errors.Is(err, repository.ErrRecipientLimit):
		respondError(c, http.StatusConflict, "You can add at most 5 recipients")
		return
	case err != nil:
		s.logger.Error("failed to add recipient", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to add recipient")
		return
	}

	c.JSON(http.StatusCreated, recipient)
}

func (s *Server) deleteRecipient(c *gin.Context) {
	userID, id, ok := s.ownedID(c)
	if !ok {
		return
	}

	if err := s.deps.Recipients.Delete(c.Request.Context(), id, userID); err != nil {
		s.respondStoreError(c, err, "Recipient not found", "Failed to delete recipient")
		return
	}
	c.Status(http.StatusNoContent)
}
