package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/config"
	"github.com/zorosafi2003/CenterPhoneApp/internal/httpmiddleware"
)

// mockapi is a development stand-in for the remote attendance backend. It
// speaks the same envelope protocol as production and keeps everything in
// memory, so the agent can be exercised with zero infrastructure.
func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("mockapi failed: %v", err)
	}
}

type state struct {
	mu       sync.Mutex
	students []api.StudentRecord
	centers  []api.CenterRecord
	inserted map[string]bool // local ids already accepted
}

func seed() *state {
	return &state{
		students: []api.StudentRecord{
			{ID: "6f1d9c2e-0001-4a51-9f0b-2f6f0a1b0001", Code: "CARD-1001", FullName: "Alice Hassan", GroupName: "G1", PhoneNumber: "0100000001"},
			{ID: "6f1d9c2e-0002-4a51-9f0b-2f6f0a1b0002", Code: "CARD-1002", FullName: "Bob Samir", GroupName: "G1", PhoneNumber: "0100000002"},
			{ID: "6f1d9c2e-0003-4a51-9f0b-2f6f0a1b0003", Code: "", FullName: "Cara Nabil", GroupName: "G2", PhoneNumber: "0100000003"},
		},
		centers: []api.CenterRecord{
			{ID: "b4a8d6c0-0001-4e71-8c2d-5a9e3f7c0001", Name: "North Center"},
			{ID: "b4a8d6c0-0002-4e71-8c2d-5a9e3f7c0002", Name: "South Center"},
		},
		inserted: make(map[string]bool),
	}
}

func ok(c *gin.Context, value any) {
	c.JSON(http.StatusOK, gin.H{"isSuccess": true, "value": value})
}

func fail(c *gin.Context, code, description string) {
	c.JSON(http.StatusOK, gin.H{
		"isSuccess": false,
		"error":     gin.H{"code": code, "description": description},
	})
}

func run(cfg config.App) error {
	st := seed()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(httpmiddleware.BearerKey))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/auth/login", func(c *gin.Context) {
		var req struct {
			UserName  string `json:"userName" binding:"required"`
			Password  string `json:"password" binding:"required"`
			LoginType int    `json:"loginType"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, "InvalidRequest", err.Error())
			return
		}

		claims := jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   req.UserName,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSigningKey))
		if err != nil {
			fail(c, "TokenIssue", "could not issue token")
			return
		}
		ok(c, gin.H{"fullName": "Mock Teacher", "token": token, "teacherName": req.UserName})
	})

	authGroup := r.Group("/", bearerAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/students/list", func(c *gin.Context) {
		var req struct {
			Skip int `json:"skip"`
			Take int `json:"take"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, "InvalidRequest", err.Error())
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		ok(c, gin.H{"data": page(st.students, req.Skip, req.Take), "count": len(st.students)})
	})

	authGroup.POST("/centers/list", func(c *gin.Context) {
		var req struct {
			Skip int `json:"skip"`
			Take int `json:"take"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, "InvalidRequest", err.Error())
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		ok(c, gin.H{"data": page(st.centers, req.Skip, req.Take), "count": len(st.centers)})
	})

	authGroup.POST("/attendance/set", func(c *gin.Context) {
		var req struct {
			Data []api.BatchEntry `json:"data"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, "InvalidRequest", err.Error())
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		confirmed := make([]string, 0, len(req.Data))
		for _, entry := range req.Data {
			if entry.LocalID == "" || entry.CenterID == "" {
				continue // unconfirmable rows stay queued on the client
			}
			st.inserted[entry.LocalID] = true
			confirmed = append(confirmed, entry.LocalID)
		}
		log.Printf("attendance batch: %d entries, %d confirmed", len(req.Data), len(confirmed))
		ok(c, gin.H{"insertedLocalIdArr": confirmed})
	})

	authGroup.GET("/students/by-phone/:phone", func(c *gin.Context) {
		phone := c.Param("phone")
		st.mu.Lock()
		defer st.mu.Unlock()
		for _, s := range st.students {
			if s.PhoneNumber == phone {
				ok(c, s)
				return
			}
		}
		fail(c, "NotFound", "no student with phone "+phone)
	})

	authGroup.PUT("/students/attach-code", func(c *gin.Context) {
		var req struct {
			ID   string `json:"id" binding:"required"`
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, "InvalidRequest", err.Error())
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		for i := range st.students {
			if st.students[i].ID == req.ID {
				st.students[i].Code = req.Code
				ok(c, st.students[i])
				return
			}
		}
		fail(c, "NotFound", "no student with id "+req.ID)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("mockapi listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down mockapi...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	return nil
}

// bearerAuth enforces HS256 bearer tokens. An invalid or expired token gets a
// transport-level 401, which is what drives the client's forced-logout path.
func bearerAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(signingKey), nil
		}, jwt.WithIssuer(issuer))
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func page[T any](items []T, skip, take int) []T {
	if take <= 0 {
		take = len(items)
	}
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	end := skip + take
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}
