package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oakline/chatsync/internal/httpx"
)

// OriginAllowed rejects browser requests whose Origin is outside
// ALLOWED_ORIGINS. Requests without an Origin header (same-origin navigation,
// curl, server-to-server) pass through, as does everything when no allow-list
// is configured. WebSocket upgrades go through this too, since CORS does not
// cover them.
func OriginAllowed() fiber.Handler {
	allowed := make(map[string]struct{})
	for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		origin := strings.TrimSpace(c.Get("Origin"))
		if origin == "" || len(allowed) == 0 {
			return c.Next()
		}
		if _, ok := allowed[origin]; !ok {
			return httpx.Forbidden(c, "forbidden_origin", "Origin not allowed")
		}
		return c.Next()
	}
}
