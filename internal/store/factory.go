package store

type Stores struct {
	db DBTX
}

func NewStores(db DBTX) *Stores {
	return &Stores{db: db}
}

func (s *Stores) Documents() DocumentStore {
	return newDocumentStore(s.db)
}

func (s *Stores) AnalysisRuns() AnalysisRunStore {
	return newAnalysisRunStore(s.db)
}

func (s *Stores) Profiles() ProfileStore {
	return newProfileStore(s.db)
}
