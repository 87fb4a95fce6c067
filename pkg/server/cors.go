package server

import (
	"context"
	"slices"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// cors allows the given origins, or any origin when the list holds "*".
// Preflight requests are answered with 204.
func cors(origins []string) app.HandlerFunc {
	allowAll := slices.Contains(origins, "*")

	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		allowed := origin != "" && (allowAll || slices.Contains(origins, origin))

		if allowed {
			c.Response.Header.Set("Access-Control-Allow-Origin", origin)
			c.Response.Header.Set("Access-Control-Allow-Credentials", "true")
			c.Response.Header.Set("Access-Control-Expose-Headers", "Content-Type")
			c.Response.Header.Add("Vary", "Origin")
		}

		if string(c.Method()) != consts.MethodOptions {
			c.Next(ctx)
			return
		}

		if allowed {
			c.Response.Header.Set("Access-Control-Allow-Methods", allowMethods)
			headers := string(c.GetHeader("Access-Control-Request-Headers"))
			if headers == "" {
				headers = "*"
			}
			c.Response.Header.Set("Access-Control-Allow-Headers", headers)
			c.Response.Header.Set("Access-Control-Max-Age", "600")
		}
		c.AbortWithStatus(consts.StatusNoContent)
	}
}
