package admin

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"optcond-backend/internal/catalog"
	"optcond-backend/internal/conditions"
	"optcond-backend/internal/engine"
	"optcond-backend/internal/instrument"
)

type Handler struct {
	catalog    *catalog.Store
	sets       *conditions.SetStore
	conditions *conditions.ConditionStore
}

func NewHandler(cat *catalog.Store, sets *conditions.SetStore, conds *conditions.ConditionStore) *Handler {
	return &Handler{catalog: cat, sets: sets, conditions: conds}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Post("/packages", h.CreatePackage)
	admin.Get("/packages/:id", h.GetPackage)
	admin.Post("/packages/:id/option-groups", h.AttachOptionGroup)

	admin.Post("/option-groups", h.CreateOptionGroup)
	admin.Get("/option-groups/:id", h.GetOptionGroup)
	admin.Post("/options", h.CreateOption)
	admin.Get("/options/:id", h.GetOption)
	admin.Post("/option-values", h.CreateOptionValue)

	admin.Get("/condition-sets", h.ListConditionSets)
	admin.Get("/condition-sets/:id", h.GetConditionSet)
	admin.Post("/condition-sets", h.CreateConditionSet)
	admin.Put("/condition-sets/:id", h.UpdateConditionSet)
	admin.Delete("/condition-sets/:id", h.DeleteConditionSet)

	admin.Get("/conditions", h.ListConditions)
	admin.Get("/conditions/:id", h.GetCondition)
	admin.Post("/conditions", h.CreateCondition)
	admin.Put("/conditions/:id", h.UpdateCondition)
	admin.Delete("/conditions/:id", h.DeleteCondition)
}

// --- Catalog Endpoints ---

func (h *Handler) CreatePackage(c *fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return requiredField("name")
	}
	p, err := h.catalog.CreatePackage(c.UserContext(), body.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": p})
}

func (h *Handler) GetPackage(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.catalog.GetPackage(c.UserContext(), id)
	if err != nil {
		return engine.MapError(err, "package", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": p})
}

func (h *Handler) AttachOptionGroup(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		OptionGroupID int64 `json:"option_group_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	err = h.catalog.AttachOptionGroup(c.UserContext(), id, body.OptionGroupID)
	if err != nil {
		return catalogError(err, "option_group_id", "package", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"package_id": id, "option_group_id": body.OptionGroupID}})
}

func (h *Handler) CreateOptionGroup(c *fiber.Ctx) error {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return requiredField("name")
	}
	g, err := h.catalog.CreateOptionGroup(c.UserContext(), body.Name, body.Description)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": g})
}

func (h *Handler) GetOptionGroup(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	g, err := h.catalog.GetOptionGroup(c.UserContext(), id)
	if err != nil {
		return engine.MapError(err, "option group", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": g})
}

func (h *Handler) CreateOption(c *fiber.Ctx) error {
	var body struct {
		Label          string  `json:"label"`
		Name           string  `json:"name"`
		Type           string  `json:"type"`
		OptionGroupIDs []int64 `json:"option_group_ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if body.Type == "" {
		body.Type = "select"
	}
	if strings.TrimSpace(body.Name) == "" {
		return requiredField("name")
	}
	if !slices.Contains(catalog.OptionTypes, body.Type) {
		return engine.ValidationError([]engine.ErrorDetail{{
			Field: "type", Rule: "oneof",
			Message: "type must be one of " + strings.Join(catalog.OptionTypes, ", "),
		}})
	}
	o, err := h.catalog.CreateOption(c.UserContext(), body.Label, body.Name, body.Type, body.OptionGroupIDs)
	if err != nil {
		return catalogError(err, "option_group_ids", "option", "")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": o})
}

func (h *Handler) GetOption(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	o, err := h.catalog.GetOption(c.UserContext(), id)
	if err != nil {
		return engine.MapError(err, "option", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": o})
}

func (h *Handler) CreateOptionValue(c *fiber.Ctx) error {
	var body struct {
		OptionID int64  `json:"option_id"`
		Name     string `json:"name"`
		Value    string `json:"value"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return requiredField("name")
	}
	v, err := h.catalog.CreateOptionValue(c.UserContext(), body.OptionID, body.Name, body.Value)
	if err != nil {
		return catalogError(err, "option_id", "option value", "")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": v})
}

// --- Condition Set Endpoints ---

func (h *Handler) ListConditionSets(c *fiber.Ctx) error {
	var f conditions.SetFilters
	var err error
	if f.ID, err = queryID(c, "id"); err != nil {
		return err
	}
	if f.OptionGroupID, err = queryID(c, "option_group_id"); err != nil {
		return err
	}
	if f.OptionID, err = queryID(c, "option_id"); err != nil {
		return err
	}
	if f.PackageID, err = queryID(c, "package_id"); err != nil {
		return err
	}
	if f.OptionIDs, err = queryIDs(c, "option_ids"); err != nil {
		return err
	}

	sets, err := h.sets.GetAll(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sets})
}

func (h *Handler) GetConditionSet(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	set, err := h.sets.Get(c.UserContext(), id)
	if err != nil {
		return engine.MapError(err, "condition set", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": set})
}

func (h *Handler) CreateConditionSet(c *fiber.Ctx) error {
	var in conditions.SetInput
	if err := c.BodyParser(&in); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	ctx := c.UserContext()
	id, err := h.sets.Add(ctx, in)
	if err != nil {
		return engine.MapError(err, "condition set", "")
	}
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "condition_set.created", "condition_set", strconv.FormatInt(id, 10), nil)

	set, err := h.sets.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": set})
}

func (h *Handler) UpdateConditionSet(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in conditions.SetInput
	if err := c.BodyParser(&in); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	ctx := c.UserContext()
	if err := h.sets.Edit(ctx, id, in); err != nil {
		return engine.MapError(err, "condition set", c.Params("id"))
	}
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "condition_set.updated", "condition_set", c.Params("id"), nil)

	set, err := h.sets.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": set})
}

func (h *Handler) DeleteConditionSet(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	if err := h.sets.Delete(ctx, id); err != nil {
		return engine.MapError(err, "condition set", c.Params("id"))
	}
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "condition_set.deleted", "condition_set", c.Params("id"), nil)
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// --- Condition Endpoints ---

func (h *Handler) ListConditions(c *fiber.Ctx) error {
	var f conditions.ConditionFilters
	var err error
	if f.ID, err = queryID(c, "id"); err != nil {
		return err
	}
	if f.ConditionSetID, err = queryID(c, "condition_set_id"); err != nil {
		return err
	}
	if f.TriggerOptionID, err = queryID(c, "trigger_option_id"); err != nil {
		return err
	}
	if f.ConditionSetIDs, err = queryIDs(c, "condition_set_ids"); err != nil {
		return err
	}

	list, err := h.conditions.GetAll(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": list})
}

func (h *Handler) GetCondition(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cond, err := h.conditions.Get(c.UserContext(), id)
	if err != nil {
		return engine.MapError(err, "condition", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": cond})
}

func (h *Handler) CreateCondition(c *fiber.Ctx) error {
	in, err := parseConditionInput(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	id, err := h.conditions.Add(ctx, in)
	if err != nil {
		return engine.MapError(err, "condition", "")
	}
	cond, err := h.conditions.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": cond})
}

func (h *Handler) UpdateCondition(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	in, err := parseConditionInput(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	if err := h.conditions.Edit(ctx, id, in); err != nil {
		return engine.MapError(err, "condition", c.Params("id"))
	}
	cond, err := h.conditions.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": cond})
}

func (h *Handler) DeleteCondition(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.conditions.Delete(c.UserContext(), id); err != nil {
		return engine.MapError(err, "condition", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// --- helpers ---

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.InvalidPayloadError("Invalid id: " + c.Params("id"))
	}
	return id, nil
}

func queryID(c *fiber.Ctx, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, engine.InvalidPayloadError("Invalid " + key + ": " + raw)
	}
	return &id, nil
}

// queryIDs parses a comma separated id list.
func queryIDs(c *fiber.Ctx, key string) ([]int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, engine.InvalidPayloadError("Invalid " + key + ": " + raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// catalogError reports an unknown reference as a failed exists rule on field.
func catalogError(err error, field, entity, id string) error {
	if errors.Is(err, catalog.ErrUnknownReference) {
		return engine.ValidationError([]engine.ErrorDetail{{
			Field: field, Rule: "exists", Message: err.Error(),
		}})
	}
	return engine.MapError(err, entity, id)
}

func parseConditionInput(c *fiber.Ctx) (conditions.ConditionInput, error) {
	var in conditions.ConditionInput
	if err := c.BodyParser(&in); err != nil {
		if errors.Is(err, conditions.ErrMalformedValueRef) {
			return in, engine.ValidationError([]engine.ErrorDetail{{
				Field: "value_id", Rule: "format", Message: err.Error(),
			}})
		}
		return in, engine.InvalidPayloadError("Invalid JSON body")
	}
	return in, nil
}

func requiredField(field string) error {
	return engine.ValidationError([]engine.ErrorDetail{{
		Field: field, Rule: "required", Message: field + " is required",
	}})
}
