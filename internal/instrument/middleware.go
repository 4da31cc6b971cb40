package instrument

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/gofiber/fiber/v2"
)

const TraceHeader = "X-Trace-ID"

// Middleware starts a trace per request and wraps the handler chain in an
// "http" span. The trace ID is taken from the X-Trace-ID request header when
// present and echoed in the response. Requests that are sampled out get the
// no-op instrumenter.
func Middleware(buffer *EventBuffer, samplingRate float64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if buffer == nil || (samplingRate < 1 && rand.Float64() >= samplingRate) {
			return c.Next()
		}

		inst := NewTraceInstrumenter(buffer, c.Get(TraceHeader), "")
		ctx := WithInstrumenter(c.UserContext(), inst)
		ctx, span := inst.StartSpan(ctx, "http", "request", c.Method()+" "+c.Path())
		c.SetUserContext(ctx)
		c.Set(TraceHeader, span.TraceID())

		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		span.SetMetadata("status_code", status)
		if err != nil || status >= 500 {
			span.SetStatus("error")
			if err != nil {
				span.SetMetadata("error", fmt.Sprint(err))
			}
		}
		span.End()
		return err
	}
}
