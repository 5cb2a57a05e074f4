package middleware

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach/models"
	"outreach/utils"
)

const secret = "middleware-secret"

func status(t *testing.T, app *fiber.App, method, target string, headers ...string) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func protectedApp(t *testing.T) (*fiber.App, *gorm.DB, *models.User) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "mw.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	user := &models.User{Email: "ada@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	app := fiber.New()
	app.Get("/private", Protected(secret, db), func(c *fiber.Ctx) error {
		if CurrentUser(c).ID != c.Locals("userID").(uint) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendStatus(fiber.StatusOK)
	})
	return app, db, user
}

func TestProtectedTokenSources(t *testing.T) {
	app, _, user := protectedApp(t)
	token, err := utils.GenerateAccessToken(secret, user, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/private", "Authorization", "Bearer "+token))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/private", "Cookie", "access_token="+token))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/private?token="+token))

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private"))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private", "Authorization", "Token "+token))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private", "Authorization", "Bearer garbage"))
}

func TestProtectedRejectsStaleOrInactiveUsers(t *testing.T) {
	app, db, user := protectedApp(t)

	forged, err := utils.GenerateAccessToken("other-secret", user, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private", "Authorization", "Bearer "+forged))

	expired, err := utils.GenerateAccessToken(secret, user, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private", "Authorization", "Bearer "+expired))

	token, err := utils.GenerateAccessToken(secret, user, time.Hour)
	require.NoError(t, err)

	require.NoError(t, db.Model(user).Update("token_version", 1).Error)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/private", "Authorization", "Bearer "+token))

	fresh, err := utils.GenerateAccessToken(secret, user, time.Hour)
	require.NoError(t, err)
	require.NoError(t, db.Model(user).Update("is_active", false).Error)
	assert.Equal(t, fiber.StatusForbidden, status(t, app, "GET", "/private", "Authorization", "Bearer "+fresh))
}

func TestAPIRateLimiterWithRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	storage := NewRedisStorage(client)

	user := &models.User{}
	user.ID = 7

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.Next()
	})
	app.Use(APIRateLimiter(2, storage))
	app.Get("/a", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/b", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/a"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/a"))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, "GET", "/a"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/b"), "limits are per path")

	assert.True(t, mr.Exists("rl:7:/a"))
}

func TestRedisStorageResetKeepsOtherKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	storage := NewRedisStorage(client)

	require.NoError(t, storage.Set("rl:1:/x", []byte("3"), time.Minute))
	require.NoError(t, client.Set(context.Background(), "quota:account:1:2026-10-14", 4, 0).Err())

	val, err := storage.Get("rl:1:/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)

	missing, err := storage.Get("rl:nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, storage.Reset())
	assert.False(t, mr.Exists("rl:1:/x"))
	assert.True(t, mr.Exists("quota:account:1:2026-10-14"))
	assert.NoError(t, storage.Close())
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST"},
		MaxAge:           600,
	}))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))
	assert.Equal(t, "GET,POST", resp.Header.Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
