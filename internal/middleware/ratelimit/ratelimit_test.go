package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_PerKeyBurst(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, Burst: 2})
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, Burst: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Get("/", rl.Middleware(), func(c *fiber.Ctx) error { return c.SendString("ok") })

	do := func(user string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User-ID", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, do("u1"))
	assert.Equal(t, fiber.StatusTooManyRequests, do("u1"))
	assert.Equal(t, fiber.StatusOK, do("u2"))

	rl.Stop()
}
