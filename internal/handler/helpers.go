package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/middleware"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/service"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/internal/utils"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// requestContext carries the correlation id and the caller's token to upstream calls.
func requestContext(c *fiber.Ctx, identity session.Identity) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
	return portalapi.ContextWithToken(ctx, identity.Token)
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}

// respondError maps domain and upstream errors to gateway statuses. Upstream failures are logged;
// cancellations are not errors and are logged at debug.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, action string) error {
	log := requestLogger(logger, c)

	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
	case errors.Is(err, service.ErrActionCancelled):
		log.Debug().Str("action", action).Msg("action cancelled")
		return utils.Fail(c, fiber.StatusPreconditionRequired, "confirmation required", nil)
	case errors.Is(err, service.ErrCommentForbidden):
		return utils.Fail(c, fiber.StatusForbidden, err.Error(), nil)
	case errors.Is(err, service.ErrCommentNotFound),
		errors.Is(err, service.ErrFeedItemNotFound),
		errors.Is(err, service.ErrContactNotFound):
		return utils.Fail(c, fiber.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrFeedItemNotMarkable),
		errors.Is(err, service.ErrNoReplyTarget),
		errors.Is(err, service.ErrCommentEmpty):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, service.ErrEngineClosed):
		return utils.Fail(c, fiber.StatusGone, err.Error(), nil)
	}

	if apiErr, ok := portalapi.IsAPIError(err); ok {
		log.Warn().Err(err).Str("action", action).Int("upstream_code", apiErr.Code).Msg("portal rejected request")
		return utils.Fail(c, fiber.StatusBadGateway, apiErr.Message, fiber.Map{"upstream_code": apiErr.Code})
	}

	log.Error().Err(err).Str("action", action).Msg("portal request failed")
	return utils.Fail(c, fiber.StatusBadGateway, "portal unavailable", nil)
}

func parseFeedKey(c *fiber.Ctx) (models.FeedItemKey, bool) {
	source := models.FeedSource(strings.ToUpper(strings.TrimSpace(c.Params("source"))))
	if source != models.FeedSourceMessage && source != models.FeedSourceNotification {
		return models.FeedItemKey{}, false
	}
	id := models.NormalizeID(c.Params("id"))
	if id.IsZero() {
		return models.FeedItemKey{}, false
	}
	return models.FeedItemKey{ID: id, Source: source}, true
}

func parseContactKey(c *fiber.Ctx) (models.ContactKey, bool) {
	userType := models.ParseUserType(c.Params("type"))
	id := models.NormalizeID(c.Params("id"))
	if !userType.Valid() || id.IsZero() {
		return models.ContactKey{}, false
	}
	return models.ContactKey{ID: id, Type: userType}, true
}
