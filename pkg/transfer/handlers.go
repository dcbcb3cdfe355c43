package transfer

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 50

// Handlers exposes the job API over Fiber.
type Handlers struct {
	service *Service
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the job routes on the given router group.
// DELETE on a job is cancel-as-delete: records are never destroyed, they
// expire with their retention period.
func (h *Handlers) RegisterRoutes(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Post("/", h.submit)
	jobs.Get("/", h.list)
	jobs.Get("/:id", h.get)
	jobs.Post("/:id/cancel", h.cancel)
	jobs.Delete("/:id", h.cancel)
}

func (h *Handlers) submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return transferErrors.NewWithCause(ErrInvalidSource, err).WithDetail("reason", "malformed body")
	}
	job, err := h.service.Submit(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *Handlers) get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *Handlers) list(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return transferErrors.New(ErrInvalidLimit).WithDetail("limit", raw)
		}
		limit = parsed
	}
	result, err := h.service.List(c.Context(), c.Query("status"), limit)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *Handlers) cancel(c *fiber.Ctx) error {
	job, err := h.service.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}
