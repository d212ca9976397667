package db

// Store exposes the package-level database through methods, for callers
// that want to depend on narrow interfaces instead of package functions.
type Store struct{}

func (Store) StartSession(userID, pose string) (Session, error) {
	return StartSession(userID, pose)
}

func (Store) GetSession(id string) (Session, error) {
	return GetSession(id)
}

func (Store) EndSession(id string) (Session, error) {
	return EndSession(id)
}

func (Store) SaveDetections(records []DetectionRecord) error {
	return SaveDetections(records)
}

func (Store) SessionHistory(userID string, limit int) ([]Session, error) {
	return SessionHistory(userID, limit)
}

func (Store) UserStats(userID string) (PracticeStats, error) {
	return UserStats(userID)
}

func (Store) Ping() error {
	return Ping()
}
