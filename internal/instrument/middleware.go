package instrument

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"widgetflow-backend/internal/metadata"
)

// TraceHeader carries a caller supplied trace id.
const TraceHeader = "X-Trace-ID"

// Middleware puts the instrumenter, a trace id and the user id into the
// request's user context, and echoes the trace id back.
func Middleware(inst Instrumenter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := utils.CopyString(c.Get(TraceHeader))
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}
		ctx := WithInstrumenter(c.UserContext(), inst)
		ctx = WithTraceID(ctx, traceID)
		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			ctx = WithUserID(ctx, user.ID)
		}
		c.SetUserContext(ctx)
		c.Set(TraceHeader, traceID)

		ctx, span := inst.StartSpan(ctx, "http", "api", c.Method()+" "+c.Path())
		c.SetUserContext(ctx)
		err := c.Next()
		span.SetMetadata("status_code", c.Response().StatusCode())
		if err != nil {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()
		return err
	}
}
