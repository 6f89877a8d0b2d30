package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/ai"
	"github.com/hray3182/LifeMoments/internal/dispatch"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ReminderStore interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Reminder, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Reminder, error)
	Update(ctx context.Context, reminder *models.Reminder) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type RecipientStore interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.NotificationRecipient, error)
	Add(ctx context.Context, userID uuid.UUID, email string) (*models.NotificationRecipient, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type AccountStore interface {
	Ensure(ctx context.Context, id uuid.UUID, email string) (*models.Account, error)
}

type WishSuggester interface {
	SuggestWishes(ctx context.Context, req ai.WishRequest, n int) ([]string, error)
}

type Dispatcher interface {
	Run(ctx context.Context) (*dispatch.Summary, error)
}

type Config struct {
	JWTSecret      string
	TriggerToken   string
	AllowedOrigins []string
	// Location anchors event midnights when computing next_trigger_at.
	Location *time.Location
}

// Dependencies are the collaborators of a Server. Wishes, Gatherer and
// OnChange are optional.
type Dependencies struct {
	Reminders  ReminderStore
	Recipients RecipientStore
	Accounts   AccountStore
	Wishes     WishSuggester
	Dispatcher Dispatcher
	Gatherer   prometheus.Gatherer
	// OnChange is called after a reminder is created or edited so that an
	// imminent trigger is picked up without waiting for the next tick.
	OnChange func()
}

type Server struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
	router *gin.Engine
	now    func() time.Time
}

func New(cfg Config, deps Dependencies, logger *zap.Logger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("api"),
		now:    time.Now,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/internal/dispatch", s.triggerDispatch)

	api := r.Group("/api")
	api.Use(s.authMiddleware())
	{
		reminders := api.Group("/reminders")
		{
			reminders.GET("", s.listReminders)
			reminders.POST("", s.createReminder)
			reminders.GET("/:id", s.getReminder)
			reminders.PUT("/:id", s.updateReminder)
			reminders.DELETE("/:id", s.deleteReminder)
		}

		recipients := api.Group("/recipients")
		{
			recipients.GET("", s.listRecipients)
			recipients.POST("", s.addRecipient)
			recipients.DELETE("/:id", s.deleteRecipient)
		}

		api.POST("/wishes", s.suggestWishes)
	}

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) notifyChange() {
	if s.deps.OnChange != nil {
		s.deps.OnChange()
	}
}
