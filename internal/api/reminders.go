package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/hray3182/LifeMoments/internal/repository"
	"github.com/hray3182/LifeMoments/internal/schedule"
	"go.uber.org/zap"
)

// ReminderInput is the body of create and update requests.
type ReminderInput struct {
	Title          string             `json:"title" binding:"required,max=100"`
	EventType      models.EventType   `json:"event_type" binding:"required,oneof=birthday anniversary bill custom"`
	Relation       *string            `json:"relation" binding:"omitempty,max=100"`
	Notes          *string            `json:"notes" binding:"omitempty,max=500"`
	EventMonth     int                `json:"event_month" binding:"required,min=1,max=12"`
	EventDay       int                `json:"event_day" binding:"required,min=1,max=31"`
	ReminderOffset schedule.Offset    `json:"reminder_offset" binding:"required,oneof=1h 4h 1d 2d 1w same"`
	RecurrenceType schedule.Frequency `json:"recurrence_type" binding:"required,oneof=daily weekly monthly yearly"`
}

func (in *ReminderInput) apply(r *models.Reminder) {
	r.Title = strings.TrimSpace(in.Title)
	r.EventType = in.EventType
	r.Relation = optional(in.Relation)
	r.Notes = optional(in.Notes)
	r.EventMonth = in.EventMonth
	r.EventDay = in.EventDay
	r.ReminderOffset = in.ReminderOffset
	r.RecurrenceType = in.RecurrenceType
}

// optional trims s and maps blank to nil.
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *Server) listReminders(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}

	reminders, err := s.deps.Reminders.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("failed to list reminders", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to retrieve reminders")
		return
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}
	c.JSON(http.StatusOK, reminders)
}

func (s *Server) getReminder(c *gin.Context) {
	userID, id, ok := s.ownedID(c)
	if !ok {
		return
	}

	reminder, err := s.deps.Reminders.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		s.respondStoreError(c, err, "Reminder not found", "Failed to retrieve reminder")
		return
	}
	c.JSON(http.StatusOK, reminder)
}

func (s *Server) createReminder(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var input ReminderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	reminder := &models.Reminder{ID: uuid.New(), UserID: userID}
	input.apply(reminder)
	if !s.prepare(c, reminder) {
		return
	}

	if err := s.deps.Reminders.Create(c.Request.Context(), reminder); err != nil {
		s.logger.Error("failed to create reminder", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to create reminder")
		return
	}
	s.notifyChange()

	c.JSON(http.StatusCreated, reminder)
}

func (s *Server) updateReminder(c *gin.Context) {
	userID, id, ok := s.ownedID(c)
	if !ok {
		return
	}

	var input ReminderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	reminder, err := s.deps.Reminders.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		s.respondStoreError(c, err, "Reminder not found", "Failed to retrieve reminder")
		return
	}
	input.apply(reminder)
	if !s.prepare(c, reminder) {
		return
	}

	if err := s.deps.Reminders.Update(c.Request.Context(), reminder); err != nil {
		s.respondStoreError(c, err, "Reminder not found", "Failed to update reminder")
		return
	}
	s.notifyChange()

	c.JSON(http.StatusOK, reminder)
}

func (s *Server) deleteReminder(c *gin.Context) {
	userID, id, ok := s.ownedID(c)
	if !ok {
		return
	}

	if err := s.deps.Reminders.Delete(c.Request.Context(), id, userID); err != nil {
		s.respondStoreError(c, err, "Reminder not found", "Failed to delete reminder")
		return
	}
	c.Status(http.StatusNoContent)
}

// prepare validates the reminder and computes its next trigger, which also
// clears any delivery state.
func (s *Server) prepare(c *gin.Context, reminder *models.Reminder) bool {
	if err := reminder.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return false
	}
	if err := reminder.Reschedule(s.now(), s.cfg.Location); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) ownedID(c *gin.Context) (userID, id uuid.UUID, ok bool) {
	userID, err := currentUser(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	id, err = uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func (s *Server) respondStoreError(c *gin.Context, err error, notFound, failed string) {
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error(failed, zap.Error(err))
	respondError(c, http.StatusInternalServerError, failed)
}
