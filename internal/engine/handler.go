package engine

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"optcond-backend/internal/conditions"
)

// Handler serves condition evaluation for storefront callers.
type Handler struct {
	service *conditions.Service
}

func NewHandler(service *conditions.Service) *Handler {
	return &Handler{service: service}
}

// evaluateRequest keys selections by option ID. JSON object keys are strings,
// so they are parsed here.
type evaluateRequest struct {
	Selections map[string]conditions.Selection `json:"selections"`
}

func (r evaluateRequest) selections() (conditions.Selections, error) {
	sel := make(conditions.Selections, len(r.Selections))
	for key, s := range r.Selections {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return nil, ValidationError([]ErrorDetail{{
				Field: "selections", Rule: "option_id", Message: "Invalid option id: " + key,
			}})
		}
		sel[id] = s
	}
	return sel, nil
}

// EvaluateOptionGroup handles POST /api/option-groups/:id/evaluate
func (h *Handler) EvaluateOptionGroup(c *fiber.Ctx) error {
	id, sel, err := parseEvaluate(c)
	if err != nil {
		return err
	}
	res, err := h.service.EvaluateOptionGroup(c.UserContext(), id, sel)
	if err != nil {
		return MapError(err, "option group", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": res})
}

// EvaluatePackage handles POST /api/packages/:id/evaluate
func (h *Handler) EvaluatePackage(c *fiber.Ctx) error {
	id, sel, err := parseEvaluate(c)
	if err != nil {
		return err
	}
	res, err := h.service.EvaluatePackage(c.UserContext(), id, sel)
	if err != nil {
		return MapError(err, "package", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": res})
}

func parseEvaluate(c *fiber.Ctx) (int64, conditions.Selections, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, InvalidPayloadError("Invalid id: " + c.Params("id"))
	}
	var req evaluateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return 0, nil, InvalidPayloadError("Invalid JSON body")
		}
	}
	sel, err := req.selections()
	if err != nil {
		return 0, nil, err
	}
	return id, sel, nil
}
