package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/oneself-console/internal/auth"
	"github.com/Checker-Finance/oneself-console/internal/crypto"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/navigation"
	"github.com/Checker-Finance/oneself-console/internal/system"
)

// statusFor maps an error to the console status and body.
func statusFor(err error) (int, ErrorResponse) {
	var rerr *httpclient.RequestError
	if errors.As(err, &rerr) {
		resp := ErrorResponse{Error: rerr.Message, Kind: rerr.Kind.String(), Code: rerr.Code}
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		if rerr.AuthFailure() {
			resp.Redirect = navigation.LoginPath
		}
		switch rerr.Kind {
		case httpclient.KindTimeout:
			return fiber.StatusGatewayTimeout, resp
		case httpclient.KindNetwork:
			resp.Cause = string(rerr.Cause)
			resp.Hint = rerr.Hint()
			return fiber.StatusBadGateway, resp
		case httpclient.KindHTTPStatus:
			return rerr.Status, resp
		case httpclient.KindBusiness:
			// Only msgCode 401 becomes an error; other codes reach the caller in the envelope.
			return fiber.StatusUnauthorized, resp
		}
		return fiber.StatusBadGateway, resp
	}

	switch {
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, system.ErrEmptyID):
		return fiber.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, crypto.ErrEncryptFailed):
		return fiber.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: "encryption"}
	}
	return fiber.StatusInternalServerError, ErrorResponse{Error: err.Error()}
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := statusFor(err)
	return c.Status(status).JSON(body)
}
