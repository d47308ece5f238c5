package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/system"
)

// collection erases the record type of a system.Resource for routing.
type collection interface {
	list(ctx context.Context, q system.Query) (any, error)
	get(ctx context.Context, id string) (any, error)
	create(ctx context.Context, body []byte) (*httpclient.Envelope, error)
	update(ctx context.Context, body []byte) (*httpclient.Envelope, error)
	remove(ctx context.Context, id string) (*httpclient.Envelope, error)
}

type typedCollection[T any] struct {
	res *system.Resource[T]
}

func bind[T any](res *system.Resource[T]) collection { return typedCollection[T]{res: res} }

func (t typedCollection[T]) list(ctx context.Context, q system.Query) (any, error) {
	return t.res.List(ctx, q)
}

func (t typedCollection[T]) get(ctx context.Context, id string) (any, error) {
	return t.res.Get(ctx, id)
}

func (t typedCollection[T]) create(ctx context.Context, body []byte) (*httpclient.Envelope, error) {
	v, err := decodeRecord[T](body)
	if err != nil {
		return nil, err
	}
	return t.res.Create(ctx, v)
}

func (t typedCollection[T]) update(ctx context.Context, body []byte) (*httpclient.Envelope, error) {
	v, err := decodeRecord[T](body)
	if err != nil {
		return nil, err
	}
	return t.res.Update(ctx, v)
}

func (t typedCollection[T]) remove(ctx context.Context, id string) (*httpclient.Envelope, error) {
	return t.res.Delete(ctx, id)
}

// errBadBody marks request bodies that do not decode into the record type.
type errBadBody struct{ err error }

func (e errBadBody) Error() string { return "invalid request body: " + e.err.Error() }

func decodeRecord[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, errBadBody{err: err}
	}
	return v, nil
}

// SystemHandler proxies the system collections under /api/system/:resource.
type SystemHandler struct {
	logger      *zap.Logger
	collections map[string]collection
}

// NewSystemHandler exposes every collection of client.
func NewSystemHandler(logger *zap.Logger, client *system.Client) *SystemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemHandler{
		logger: logger,
		collections: map[string]collection{
			system.ResourceDept:          bind(client.Depts),
			system.ResourceUser:          bind(client.Users),
			system.ResourceRole:          bind(client.Roles),
			system.ResourceConfiguration: bind(client.Configurations),
		},
	}
}

func (h *SystemHandler) lookup(c *fiber.Ctx) (collection, bool) {
	coll, ok := h.collections[c.Params("resource")]
	return coll, ok
}

func unknownResource(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error: fmt.Sprintf("unknown resource %q", c.Params("resource")),
	})
}

// List serves GET /api/system/:resource?pageNum&pageSize&keyword.
func (h *SystemHandler) List(c *fiber.Ctx) error {
	coll, ok := h.lookup(c)
	if !ok {
		return unknownResource(c)
	}
	page, err := coll.list(c.UserContext(), system.Query{
		PageNum:  c.QueryInt("pageNum", 0),
		PageSize: c.QueryInt("pageSize", 0),
		Keyword:  c.Query("keyword"),
	})
	if err != nil {
		return h.fail(c, "list", err)
	}
	return c.JSON(page)
}

// Get serves GET /api/system/:resource/:id.
func (h *SystemHandler) Get(c *fiber.Ctx) error {
	coll, ok := h.lookup(c)
	if !ok {
		return unknownResource(c)
	}
	rec, err := coll.get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "get", err)
	}
	return c.JSON(rec)
}

// Create serves POST /api/system/:resource.
func (h *SystemHandler) Create(c *fiber.Ctx) error {
	coll, ok := h.lookup(c)
	if !ok {
		return unknownResource(c)
	}
	env, err := coll.create(c.UserContext(), c.Body())
	if err != nil {
		return h.fail(c, "create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(toEnvelopeResponse(env))
}

// Update serves PUT /api/system/:resource.
func (h *SystemHandler) Update(c *fiber.Ctx) error {
	coll, ok := h.lookup(c)
	if !ok {
		return unknownResource(c)
	}
	env, err := coll.update(c.UserContext(), c.Body())
	if err != nil {
		return h.fail(c, "update", err)
	}
	return c.JSON(toEnvelopeResponse(env))
}

// Delete serves DELETE /api/system/:resource/:id.
func (h *SystemHandler) Delete(c *fiber.Ctx) error {
	coll, ok := h.lookup(c)
	if !ok {
		return unknownResource(c)
	}
	env, err := coll.remove(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "delete", err)
	}
	return c.JSON(toEnvelopeResponse(env))
}

func (h *SystemHandler) fail(c *fiber.Ctx, op string, err error) error {
	var bad errBadBody
	if errors.As(err, &bad) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: bad.Error()})
	}
	h.logger.Warn("console.system_failed",
		zap.String("resource", c.Params("resource")),
		zap.String("op", op),
		zap.Error(err))
	return writeError(c, err)
}
