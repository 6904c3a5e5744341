// Package httpx pins the REST error contract: every non-2xx response carries
// the same JSON shape, tagged with a stable machine code and the request id
// for log correlation.
package httpx

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error writes the error body. The request id is taken from the requestid
// middleware when it ran.
func Error(c *fiber.Ctx, status int, code, message string) error {
	if message == "" {
		message = "Request failed"
	}
	resp := ErrorResponse{Error: message, Code: code}
	if id, ok := c.Locals("requestid").(string); ok {
		resp.RequestID = id
	}
	return c.Status(status).JSON(resp)
}

func BadRequest(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// LocalUint reads a uint local set by earlier middleware, typically the
// authenticated user id.
func LocalUint(c *fiber.Ctx, key string) (uint, error) {
	u, ok := c.Locals(key).(uint)
	if !ok {
		return 0, fmt.Errorf("missing local %s", key)
	}
	return u, nil
}
