package cache_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"clausewise.app/analyzer/internal/cache"
)

var _ = Describe("RedisCache", func() {
	var (
		ctx    context.Context
		mr     *miniredis.Miniredis
		client *redis.Client
		c      *cache.RedisCache
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		c = cache.NewRedisCache(client)
	})

	It("builds document keys", func() {
		Expect(cache.DocumentKey("D1")).To(Equal("document:D1"))
	})

	It("stores a value with a TTL", func() {
		Expect(c.Set(ctx, cache.DocumentKey("D1"), "contract text", cache.DocumentTTL)).To(Succeed())

		value, found, err := c.Get(ctx, cache.DocumentKey("D1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(value).To(Equal("contract text"))
		Expect(mr.TTL("document:D1")).To(Equal(24 * time.Hour))
	})

	It("reports absence without an error", func() {
		value, found, err := c.Get(ctx, cache.DocumentKey("missing"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
		Expect(value).To(BeEmpty())
	})

	It("treats expired keys as absent", func() {
		Expect(c.Set(ctx, "k", "v", time.Minute)).To(Succeed())
		mr.FastForward(2 * time.Minute)

		_, found, err := c.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	It("lets the last write win", func() {
		Expect(c.Set(ctx, "k", "first", time.Minute)).To(Succeed())
		Expect(c.Set(ctx, "k", "second", time.Minute)).To(Succeed())

		value, _, err := c.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal("second"))
	})

	It("returns transport errors", func() {
		mr.Close()
		_, _, err := c.Get(ctx, "k")
		Expect(err).To(HaveOccurred())
	})
})
