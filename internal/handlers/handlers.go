package handlers

import (
	"database/sql"
	"os"
	"time"

	"github.com/replyloop/backend/internal/dedup"
	"github.com/replyloop/backend/internal/dispatch"
	"github.com/replyloop/backend/internal/instagram"
	"github.com/replyloop/backend/internal/store"
)

type Handler struct {
	db    *sql.DB
	store *store.Store
	ig    *instagram.Client
	disp  *dispatch.Dispatcher
	guard dedup.Guard
	rt    *realtimeHub

	welcomeEnabled bool

	// sleep implements per-automation send delays; replaced in tests.
	sleep func(time.Duration)
}

func New(db *sql.DB) *Handler {
	ig := instagram.New()
	return &Handler{
		db:             db,
		store:          store.New(db),
		ig:             ig,
		disp:           dispatch.New(ig),
		guard:          dedup.NewTTLGuard(time.Minute, 1000),
		rt:             newRealtimeHub(),
		welcomeEnabled: os.Getenv("WELCOME_MESSAGES_ENABLED") == "true",
		sleep:          time.Sleep,
	}
}

// Store exposes the persistence layer for workers wired from main.
func (h *Handler) Store() *store.Store { return h.store }

// Instagram exposes the Graph client for workers wired from main.
func (h *Handler) Instagram() *instagram.Client { return h.ig }

// Dispatcher exposes the delivery dispatcher for workers wired from main.
func (h *Handler) Dispatcher() *dispatch.Dispatcher { return h.disp }
