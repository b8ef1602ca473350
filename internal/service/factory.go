package service

import (
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/queue"
	"clausewise.app/analyzer/internal/store"
)

type Services struct {
	stores   store.StoreProvider
	cache    cache.Cache
	producer queue.Producer
	notifier notify.Notifier
}

func NewServices(stores store.StoreProvider, c cache.Cache, producer queue.Producer, notifier notify.Notifier) *Services {
	return &Services{
		stores:   stores,
		cache:    c,
		producer: producer,
		notifier: notifier,
	}
}

func (s *Services) Documents() DocumentService {
	return NewDocumentService(s.stores.Documents(), s.stores.AnalysisRuns(), s.cache, s.producer, s.notifier)
}
