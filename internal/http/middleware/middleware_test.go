package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/common/logger"
	"clausewise.app/analyzer/internal/http/middleware"
)

var _ = Describe("RequireUser", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = gin.New()
		router.GET("/me", middleware.RequireUser(), func(c *gin.Context) {
			fields := logger.GetLogFields(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"userId": middleware.UserID(c), "logged": *fields.UserID})
		})
	})

	It("rejects requests without a user header", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects blank user headers", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(middleware.UserIDHeader, "   ")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("exposes the user id to handlers and logs", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(middleware.UserIDHeader, "U1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"userId":"U1","logged":"U1"}`))
	})
})

var _ = Describe("Recovery", func() {
	It("turns panics into 500s", func() {
		router := gin.New()
		router.Use(middleware.Recovery())
		router.GET("/boom", func(*gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(MatchJSON(`{"error":"internal server error"}`))
	})
})

var _ = Describe("TraceHeader", func() {
	It("omits the header without an active trace", func() {
		router := gin.New()
		router.Use(middleware.TraceHeader("X-Trace-Id"))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(w.Header().Get("X-Trace-Id")).To(BeEmpty())
	})
})
