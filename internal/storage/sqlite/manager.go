package sqlite

import (
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Manager wires the SQLite-backed repositories: projects, sources,
// extractions, entities, domain boilerplate, jobs, and the vector store.
type Manager struct {
	db          *SQLiteDB
	project     interfaces.ProjectRepo
	source      interfaces.SourceRepo
	extraction  interfaces.ExtractionRepo
	entity      interfaces.EntityRepo
	boilerplate interfaces.DomainBoilerplateRepo
	job         interfaces.JobStore
	vector      interfaces.VectorRepo
	logger      arbor.ILogger
}

// NewManager opens the SQLite database and constructs every repository.
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		project:     NewProjectStorage(db, logger),
		source:      NewSourceStorage(db, logger),
		extraction:  NewExtractionStorage(db, logger),
		entity:      NewEntityStorage(db, logger),
		boilerplate: NewBoilerplateStorage(db, logger),
		job:         NewJobStorage(db, logger),
		vector:      NewVectorStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("SQLite storage manager initialized (project, source, extraction, entity, boilerplate, job, vector)")
	return manager, nil
}

func (m *Manager) ProjectRepo() interfaces.ProjectRepo                     { return m.project }
func (m *Manager) SourceRepo() interfaces.SourceRepo                       { return m.source }
func (m *Manager) ExtractionRepo() interfaces.ExtractionRepo               { return m.extraction }
func (m *Manager) EntityRepo() interfaces.EntityRepo                       { return m.entity }
func (m *Manager) DomainBoilerplateRepo() interfaces.DomainBoilerplateRepo { return m.boilerplate }
func (m *Manager) JobStore() interfaces.JobStore                           { return m.job }
func (m *Manager) VectorRepo() interfaces.VectorRepo                       { return m.vector }

// DB returns the underlying SQLite connection wrapper.
func (m *Manager) DB() *SQLiteDB { return m.db }

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
