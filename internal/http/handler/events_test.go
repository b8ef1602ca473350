package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/internal/http/handler"
	"clausewise.app/analyzer/internal/http/middleware"
	"clausewise.app/analyzer/internal/notify"
)

var _ = Describe("EventsHandler", func() {
	It("streams room events as server-sent events", func() {
		events := make(chan notify.Message, 1)
		events <- notify.Message{Event: notify.EventCompleted, Payload: json.RawMessage(`{"documentId":"D1"}`)}
		close(events)

		var room string
		sub := &mockSubscriber{subscribeFn: func(_ context.Context, r string) (<-chan notify.Message, error) {
			room = r
			return events, nil
		}}

		router := gin.New()
		router.GET("/events", middleware.RequireUser(), handler.NewEventsHandler(sub, time.Hour).Stream)

		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set(middleware.UserIDHeader, "U1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(room).To(Equal("user:U1"))
		Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/event-stream"))
		Expect(w.Body.String()).To(ContainSubstring("event:document-analysis-completed"))
		Expect(w.Body.String()).To(ContainSubstring(`{"documentId":"D1"}`))
	})

	It("returns 503 when subscribing fails", func() {
		sub := &mockSubscriber{subscribeFn: func(context.Context, string) (<-chan notify.Message, error) {
			return nil, errors.New("redis down")
		}}

		router := gin.New()
		router.GET("/events", middleware.RequireUser(), handler.NewEventsHandler(sub, 0).Stream)

		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set(middleware.UserIDHeader, "U1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})
})

var _ = Describe("HealthHandler", func() {
	It("reports failing dependencies", func() {
		router := gin.New()
		router.GET("/health", handler.NewHealthHandler(map[string]handler.HealthCheck{
			"redis":    func(context.Context) error { return errors.New("refused") },
			"database": func(context.Context) error { return nil },
		}).Check)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(w.Body.String()).To(MatchJSON(`{"status":"degraded","failing":{"redis":"refused"}}`))
	})

	It("is ok with no failing checks", func() {
		router := gin.New()
		router.GET("/health", handler.NewHealthHandler(nil).Check)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
	})
})
