package config_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/core/config"
)

func setEnv(key, value string) {
	prev, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

var _ = Describe("Load", func() {
	BeforeEach(func() {
		setEnv("ANALYZER_ENV", "test")
	})

	It("applies defaults for the server", func() {
		cfg, err := config.Load(config.ServiceTypeServer)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Queue.Stream).To(Equal("document-analysis"))
		Expect(cfg.Queue.Group).To(Equal("analysis-workers"))
		Expect(cfg.Notifier.Backend).To(Equal("redis"))
		Expect(cfg.NodeID).To(Equal(int64(1)))
		Expect(cfg.LLM.Timeout).To(Equal(90 * time.Second))
	})

	It("requires an LLM key for the worker", func() {
		setEnv("LLM_API_KEY", "")

		_, err := config.Load(config.ServiceTypeWorker)
		Expect(err).To(MatchError(ContainSubstring("LLM_API_KEY")))
	})

	It("reads worker settings from the environment", func() {
		setEnv("LLM_API_KEY", "sk-test")
		setEnv("LLM_PROVIDER", "anthropic")
		setEnv("WORKER_CONCURRENCY", "4")
		setEnv("WORKER_REQUEUE_DELAY", "5s")
		setEnv("QUEUE_STREAM", "contracts")

		cfg, err := config.Load(config.ServiceTypeWorker)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.NodeID).To(Equal(int64(2)))
		Expect(cfg.LLM.Provider).To(Equal("anthropic"))
		Expect(cfg.Worker.Concurrency).To(Equal(4))
		Expect(cfg.Worker.RequeueDelay).To(Equal(5 * time.Second))
		Expect(cfg.Queue.Stream).To(Equal("contracts"))
	})

	It("derives the job heartbeat from the reclaim idle time", func() {
		setEnv("LLM_API_KEY", "sk-test")
		setEnv("WORKER_RECLAIM_MIN_IDLE", "9m")

		cfg, err := config.Load(config.ServiceTypeWorker)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Worker.Heartbeat).To(Equal(3 * time.Minute))
	})

	It("rejects a heartbeat that is not below the reclaim idle time", func() {
		setEnv("LLM_API_KEY", "sk-test")
		setEnv("WORKER_RECLAIM_MIN_IDLE", "1m")
		setEnv("WORKER_HEARTBEAT_INTERVAL", "2m")

		_, err := config.Load(config.ServiceTypeWorker)
		Expect(err).To(MatchError(ContainSubstring("WORKER_HEARTBEAT_INTERVAL")))
	})

	It("rejects unknown notifier backends", func() {
		setEnv("NOTIFIER_BACKEND", "kafka")

		_, err := config.Load(config.ServiceTypeServer)
		Expect(err).To(MatchError(ContainSubstring("NOTIFIER_BACKEND")))
	})
})
