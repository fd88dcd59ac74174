package statusapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"stockwatch/internal/catalog"
	"stockwatch/internal/statestore"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	defaultLimit   = 20
	maxLimit       = 500
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx := c.UserContext()
	view := HealthView{Status: healthOK, Store: healthOK}

	if err := s.store.Ping(ctx); err != nil {
		view.Status = healthDegraded
		view.Store = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(view)
	}
	if count, err := s.store.CountItems(ctx); err == nil {
		view.Items = count
	}
	latest, err := s.store.LatestRun(ctx)
	if err != nil {
		view.Status = healthDegraded
		view.Store = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(view)
	}
	if latest != nil {
		run := FromRun(*latest)
		view.LatestRun = &run
		if latest.Status == catalog.RunFailure {
			view.Status = healthDegraded
			return c.Status(fiber.StatusServiceUnavailable).JSON(view)
		}
	}
	return c.JSON(view)
}

func (s *Server) handleRuns(c *fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return err
	}
	runs, err := s.store.ListRuns(c.UserContext(), limit)
	if err != nil {
		return err
	}
	resp := RunListResponse{Runs: make([]RunView, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, FromRun(run))
	}
	return c.JSON(resp)
}

func (s *Server) handleRun(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid run id")
	}
	run, err := s.store.GetRun(c.UserContext(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return fiber.NewError(fiber.StatusNotFound, "run not found")
	}
	return c.JSON(FromRun(*run))
}

func (s *Server) handleChanges(c *fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return err
	}
	filter := statestore.ChangeFilter{
		Code:  strings.TrimSpace(c.Query("code")),
		Limit: limit,
	}
	if value := strings.TrimSpace(c.Query("type")); value != "" {
		kind, err := catalog.ParseChangeType(value)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		filter.Type = kind
	}
	if value := strings.TrimSpace(c.Query("since")); value != "" {
		since, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
		}
		filter.Since = since
	}
	changes, err := s.store.ListChanges(c.UserContext(), filter)
	if err != nil {
		return err
	}
	resp := ChangeListResponse{Changes: make([]ChangeView, 0, len(changes))}
	for _, change := range changes {
		resp.Changes = append(resp.Changes, FromChange(change))
	}
	return c.JSON(resp)
}

func (s *Server) handleItems(c *fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return err
	}
	filter := statestore.ItemFilter{Limit: limit}
	if value := strings.TrimSpace(c.Query("offset")); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil || offset < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	if value := strings.TrimSpace(c.Query("in_stock")); value != "" {
		inStock, err := strconv.ParseBool(value)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "in_stock must be true or false")
		}
		filter.InStock = &inStock
	}
	items, total, err := s.store.ListItems(c.UserContext(), filter)
	if err != nil {
		return err
	}
	resp := ItemListResponse{
		Items:  make([]ItemView, 0, len(items)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, FromItem(item))
	}
	return c.JSON(resp)
}

func parseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
